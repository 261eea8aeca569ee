package crosstab

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/agentworkforce/mdtabs/internal/metastore"
)

const publishTimeout = 5 * time.Second

// PublishingStore forwards every saved snapshot to a Publisher after the
// wrapped store accepted it. Publish failures are logged.
type PublishingStore struct {
	store     metastore.Store
	publisher Publisher
	key       string
	logger    *slog.Logger
}

func NewPublishingStore(store metastore.Store, publisher Publisher, key string, logger *slog.Logger) *PublishingStore {
	if key == "" {
		key = metastore.DefaultKey
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PublishingStore{store: store, publisher: publisher, key: key, logger: logger}
}

func (s *PublishingStore) Load() (*metastore.Snapshot, error) {
	return s.store.Load()
}

func (s *PublishingStore) Save(snapshot *metastore.Snapshot) error {
	if err := s.store.Save(snapshot); err != nil {
		return err
	}
	if s.publisher == nil {
		return nil
	}
	data, err := metastore.Encode(snapshot)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, Event{Key: s.key, NewValue: string(data)}); err != nil {
		s.logger.Warn("publish metadata failed", "key", s.key, "err", err)
	}
	return nil
}
