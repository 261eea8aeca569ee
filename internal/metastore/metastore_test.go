package metastore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleFiles() []FileRecord {
	return []FileRecord{
		{ID: "a", Name: "bm.md", CreatedAt: 100, UpdatedAt: 150},
		{ID: "b", Name: "Hello.md", CreatedAt: 200, UpdatedAt: 200},
	}
}

func TestEncodeMatchesPersistedLayout(t *testing.T) {
	data, err := Encode(NewSnapshot(nil, "", ""))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := `{"state":{"files":[],"activeFileId":null},"version":0}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	data, err := Encode(NewSnapshot(sampleFiles(), "b", "ctx-1"))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	snapshot, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(sampleFiles(), snapshot.State.Files); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
	if snapshot.ActiveID() != "b" || snapshot.Origin != "ctx-1" {
		t.Fatalf("expected active b from ctx-1, got %q from %q", snapshot.ActiveID(), snapshot.Origin)
	}
}

func TestDecodeAcceptsForeignBlob(t *testing.T) {
	raw := `{"state":{"files":[{"id":"x","name":"x.md","createdAt":1,"updatedAt":2}],"activeFileId":"x"},"version":0}`
	snapshot, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snapshot.ActiveID() != "x" || len(snapshot.State.Files) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestDecodeRejectsInvalidSnapshots(t *testing.T) {
	cases := map[string]string{
		"malformed json":   `{"state":`,
		"missing state":    `{"files":[]}`,
		"files not array":  `{"state":{"files":{}}}`,
		"empty id":         `{"state":{"files":[{"id":"","name":"a.md","createdAt":1,"updatedAt":1}]}}`,
		"fractional time":  `{"state":{"files":[{"id":"a","name":"a.md","createdAt":1.5,"updatedAt":1}]}}`,
		"numeric activeId": `{"state":{"files":[],"activeFileId":3}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(raw)); !errors.Is(err, ErrInvalidSnapshot) {
				t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
			}
		})
	}
}

func TestInMemoryStore(t *testing.T) {
	store := NewInMemoryStore()
	if snapshot, err := store.Load(); err != nil || snapshot != nil {
		t.Fatalf("expected empty store, got %+v, %v", snapshot, err)
	}
	if err := store.Save(NewSnapshot(sampleFiles(), "a", "")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	snapshot, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if snapshot.ActiveID() != "a" || len(snapshot.State.Files) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	snapshot.State.Files[0].Name = "mutated.md"
	again, _ := store.Load()
	if again.State.Files[0].Name != "bm.md" {
		t.Fatalf("expected loads to return independent copies")
	}
}

func TestJSONFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "files.json")
	store := NewJSONFileStore(path)

	if snapshot, err := store.Load(); err != nil || snapshot != nil {
		t.Fatalf("expected missing file to load as nil, got %+v, %v", snapshot, err)
	}
	if err := store.Save(NewSnapshot(sampleFiles(), "b", "ctx")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := os.Stat(store.LockPath()); err != nil {
		t.Fatalf("expected lock file next to snapshot: %v", err)
	}
	snapshot, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if diff := cmp.Diff(sampleFiles(), snapshot.State.Files); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "files.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write fixture failed: %v", err)
	}
	if _, err := NewJSONFileStore(path).Load(); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}
}
