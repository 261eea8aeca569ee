package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

const (
	dirRecordExt  = ".json"
	dirProbeName  = ".mdtabs-probe"
	dirPermission = 0o755
)

type dirRecord struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// DirDurable stores one JSON record per document id inside Dir.
type DirDurable struct {
	Dir string
}

func NewDirDurable(dir string) *DirDurable {
	return &DirDurable{Dir: strings.TrimSpace(dir)}
}

func (b *DirDurable) Open(context.Context) error {
	if b == nil || b.Dir == "" {
		return ErrInvalidInput
	}
	if err := os.MkdirAll(b.Dir, dirPermission); err != nil {
		return err
	}
	probe := filepath.Join(b.Dir, dirProbeName)
	if err := atomic.WriteFile(probe, strings.NewReader("ok")); err != nil {
		return fmt.Errorf("directory %s is not writable: %w", b.Dir, err)
	}
	return os.Remove(probe)
}

func (b *DirDurable) Get(ctx context.Context, id string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	path, err := b.recordPath(id)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	var record dirRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return "", false, fmt.Errorf("decode record %s: %w", id, err)
	}
	return record.Content, true, nil
}

func (b *DirDurable) Put(ctx context.Context, id, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.recordPath(id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(dirRecord{ID: id, Content: content})
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

func (b *DirDurable) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.recordPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *DirDurable) Close() error {
	return nil
}

func (b *DirDurable) recordPath(id string) (string, error) {
	if !validRecordID(id) {
		return "", fmt.Errorf("%w: record id %q", ErrInvalidInput, id)
	}
	return filepath.Join(b.Dir, id+dirRecordExt), nil
}

func validRecordID(id string) bool {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
