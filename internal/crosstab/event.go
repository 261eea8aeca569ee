package crosstab

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var ErrInvalidEvent = errors.New("invalid event")

// Event is a change to a shared key observed in another context. An empty
// NewValue means the key was removed.
type Event struct {
	Key      string `json:"key"`
	NewValue string `json:"newValue,omitempty"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Key) == "" {
		return errors.Join(ErrInvalidEvent, errors.New("key is required"))
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// blobOrigin reads the origin stamp of a persisted snapshot without
// validating the rest of it.
func blobOrigin(data []byte) string {
	var envelope struct {
		Origin string `json:"origin"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ""
	}
	return strings.TrimSpace(envelope.Origin)
}
