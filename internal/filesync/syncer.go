package filesync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/agentworkforce/mdtabs/internal/crosstab"
	"github.com/agentworkforce/mdtabs/internal/files"
	"github.com/agentworkforce/mdtabs/internal/metastore"
)

// Registry is the part of files.Registry the syncer drives.
type Registry interface {
	Files() []files.FileRecord
	ActiveFileID() string
	ApplyRemoteFiles(records []files.FileRecord)
	SwitchFile(ctx context.Context, id string) error
}

type Options struct {
	Key    string
	Logger *slog.Logger
	// OnChange is called after a remote file list was adopted.
	OnChange func(records []files.FileRecord)
}

// Syncer reconciles a local registry with file lists written by other
// contexts.
type Syncer struct {
	registry Registry
	key      string
	logger   *slog.Logger
	onChange func([]files.FileRecord)
}

func New(registry Registry, opts Options) *Syncer {
	key := opts.Key
	if key == "" {
		key = metastore.DefaultKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	onChange := opts.OnChange
	if onChange == nil {
		onChange = func([]files.FileRecord) {}
	}
	return &Syncer{registry: registry, key: key, logger: logger, onChange: onChange}
}

// HandleEvent applies one change. It reports whether the local file list
// was replaced.
func (s *Syncer) HandleEvent(ctx context.Context, event crosstab.Event) (bool, error) {
	if event.Key != s.key || strings.TrimSpace(event.NewValue) == "" {
		return false, nil
	}
	snapshot, err := metastore.Decode([]byte(event.NewValue))
	if err != nil {
		s.logger.Warn("ignoring malformed file list", "key", event.Key, "err", err)
		return false, nil
	}
	remote := snapshot.State.Files
	if len(remote) == 0 {
		s.logger.Warn("ignoring empty remote file list", "key", event.Key)
		return false, nil
	}
	changed := Signature(remote) != Signature(s.registry.Files())
	if changed {
		s.registry.ApplyRemoteFiles(remote)
		s.logger.Info("adopted remote file list", "key", event.Key, "files", len(remote), "origin", snapshot.Origin)
		s.onChange(remote)
	}

	// Checked on every delivery so a failed switch is retried when the same
	// list arrives again.
	local := s.registry.Files()
	active := s.registry.ActiveFileID()
	for _, f := range local {
		if f.ID == active {
			return changed, nil
		}
	}
	if len(local) == 0 {
		return changed, nil
	}
	if err := s.registry.SwitchFile(ctx, local[0].ID); err != nil {
		return changed, fmt.Errorf("switch to %s: %w", local[0].ID, err)
	}
	return changed, nil
}

// Run handles events until ctx is done or events is closed.
func (s *Syncer) Run(ctx context.Context, events <-chan crosstab.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := s.HandleEvent(ctx, event); err != nil {
				s.logger.Warn("sync failed", "key", event.Key, "err", err)
			}
		}
	}
}

// Signature identifies a file list by id, name and updatedAt of each entry
// in order.
func Signature(records []files.FileRecord) string {
	parts := make([]string, 0, len(records))
	for _, f := range records {
		parts = append(parts, fmt.Sprintf("%s:%s:%d", f.ID, f.Name, f.UpdatedAt))
	}
	return strings.Join(parts, "|")
}
