package metastore

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// DefaultKey names the shared metadata entry.
const DefaultKey = "bm.md.files"

var ErrInvalidSnapshot = errors.New("invalid snapshot")

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://mdtabs.invalid/snapshot.schema.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaURL)
})

type FileRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (r FileRecord) RecordID() string   { return r.ID }
func (r FileRecord) RecordName() string { return r.Name }

type State struct {
	Files        []FileRecord `json:"files"`
	ActiveFileID *string      `json:"activeFileId"`
}

// Snapshot is the persisted metadata blob. Content is never part of it.
type Snapshot struct {
	State   State  `json:"state"`
	Version int    `json:"version"`
	Origin  string `json:"origin,omitempty"`
}

func NewSnapshot(files []FileRecord, activeID, origin string) *Snapshot {
	snapshot := &Snapshot{
		State:  State{Files: append([]FileRecord{}, files...)},
		Origin: origin,
	}
	if activeID != "" {
		id := activeID
		snapshot.State.ActiveFileID = &id
	}
	return snapshot
}

func (s *Snapshot) ActiveID() string {
	if s == nil || s.State.ActiveFileID == nil {
		return ""
	}
	return *s.State.ActiveFileID
}

func Encode(snapshot *Snapshot) ([]byte, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	out := *snapshot
	if out.State.Files == nil {
		out.State.Files = []FileRecord{}
	}
	return json.Marshal(out)
}

// Decode validates data against the snapshot schema before unmarshalling.
func Decode(data []byte) (*Snapshot, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if snapshot.State.Files == nil {
		snapshot.State.Files = []FileRecord{}
	}
	return &snapshot, nil
}
