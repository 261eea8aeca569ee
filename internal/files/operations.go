package files

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/agentworkforce/mdtabs/internal/naming"
)

// SetCurrentContent replaces the working copy and schedules a debounced
// save for the active file.
func (r *Registry) SetCurrentContent(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = content
	r.edits++
	r.lastSaveError = ""
	id, gen := r.activeID, r.edits
	if r.indexLocked(id) < 0 {
		return
	}
	r.saves.Schedule(id, content, func() {
		r.markSaved(id, gen)
	}, func(err error) {
		r.saveFailed(id, err)
	})
}

// CreateFile stores content under a fresh id and appends a record for it.
// An empty name derives one from the first heading. The new file is not
// activated.
func (r *Registry) CreateFile(ctx context.Context, name, content string) (string, error) {
	id := strings.TrimSpace(r.newID())
	if id == "" {
		return "", fmt.Errorf("%w: empty file id", ErrInvalidInput)
	}
	raw := strings.TrimSpace(name)
	if raw == "" {
		raw = naming.DefaultName
		if title, ok := naming.ExtractTitle(content); ok {
			raw = title
		}
	}

	if err := r.saves.Write(ctx, id, content); err != nil {
		r.logger.Error("create file failed", "file_id", id, "err", err)
		r.notify(Notice{Kind: NoticeCreateFailed, FileID: id, Message: "could not create file: " + err.Error(), Err: err})
		return "", fmt.Errorf("create file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowLocked()
	r.files = append(r.files, FileRecord{
		ID:        id,
		Name:      naming.EnsureUnique(raw, r.files, ""),
		CreatedAt: now,
		UpdatedAt: now,
	})
	r.persistLocked()
	return id, nil
}

// RenameFile gives id a new unique name and returns it.
func (r *Registry) RenameFile(id, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	unique := naming.EnsureUnique(name, r.files, id)
	r.files[idx].Name = unique
	r.files[idx].UpdatedAt = r.nowLocked()
	r.persistLocked()
	return unique, nil
}

// DeleteFile removes id and its content. Deleting the active file
// activates the first remaining one; deleting the last file replaces it
// with a default document.
func (r *Registry) DeleteFile(ctx context.Context, id string) error {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.files = slices.Delete(r.files, idx, idx+1)
	r.saves.Cancel(id)
	wasActive := r.activeID == id
	empty := len(r.files) == 0
	next := ""
	if wasActive && !empty {
		next = r.files[0].ID
	}
	r.persistLocked()
	r.mu.Unlock()

	// The record is gone before the purge is issued, so a guarded write
	// for id that runs after it is skipped.
	if err := r.saves.Purge(ctx, id); err != nil {
		r.logger.Warn("delete content failed", "file_id", id, "err", err)
	}

	if empty {
		r.synthesizeDefault(ctx)
		return nil
	}
	if next == "" {
		return nil
	}
	return r.SwitchFile(ctx, next)
}

// SwitchFile makes id the active file. Unsaved edits to the outgoing working
// copy are written first. When several switches overlap, only the most
// recently started one commits.
func (r *Registry) SwitchFile(ctx context.Context, id string) error {
	r.mu.Lock()
	if r.indexLocked(id) < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	seq := r.switchSeq.Add(1)
	prevID, prevContent := r.activeID, r.current
	flush := r.edits != r.savedEdits && r.indexLocked(prevID) >= 0
	if prevID != "" {
		r.saves.Cancel(prevID)
	}
	r.mu.Unlock()

	if flush {
		keep := func() bool { return r.hasFile(prevID) }
		if _, err := r.saves.WriteIf(ctx, prevID, prevContent, keep); err != nil {
			r.logger.Warn("save before switch failed", "file_id", prevID, "err", err)
		}
	}
	if r.switchSeq.Load() != seq {
		r.logger.Debug("switch superseded", "file_id", id)
		return nil
	}

	content, err := r.content.Get(ctx, id)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		r.logger.Warn("load content failed", "file_id", id, "err", err)
		content = ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.switchSeq.Load() != seq {
		r.logger.Debug("switch superseded", "file_id", id)
		return nil
	}
	if r.indexLocked(id) < 0 {
		r.logger.Debug("switch target removed", "file_id", id)
		return nil
	}
	r.activeID = id
	r.current = content
	r.savedEdits = r.edits
	r.persistLocked()
	return nil
}

// Initialize ensures an active file exists and loads its content. It runs
// once after hydration; concurrent callers share one run.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	ready := r.hydrated && !r.initialized
	r.mu.Unlock()
	if !ready {
		return nil
	}
	_, err, _ := r.initGroup.Do("initialize", func() (any, error) {
		return nil, r.initialize(ctx)
	})
	return err
}

func (r *Registry) initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return nil
	}
	empty := len(r.files) == 0
	r.mu.Unlock()

	if empty {
		r.synthesizeDefault(ctx)
	}

	r.mu.Lock()
	if r.indexLocked(r.activeID) < 0 && len(r.files) > 0 {
		r.activeID = r.files[0].ID
		r.persistLocked()
	}
	id := r.activeID
	seq := r.switchSeq.Load()
	r.mu.Unlock()

	content := ""
	if id != "" {
		loaded, err := r.content.Get(ctx, id)
		if err != nil {
			r.logger.Warn("load content failed", "file_id", id, "err", err)
		} else {
			content = loaded
		}
	}

	r.mu.Lock()
	if r.switchSeq.Load() == seq && r.activeID == id {
		r.current = content
		r.savedEdits = r.edits
	}
	r.initialized = true
	r.mu.Unlock()

	if reporter, ok := r.content.(availabilityReporter); ok && reporter.Unavailable() {
		reason := reporter.UnavailableReason()
		r.logger.Warn("durable storage unavailable", "reason", reason)
		r.notify(Notice{Kind: NoticeStorageUnavailable, Message: reason})
	}
	return nil
}

// synthesizeDefault stores the default document and activates it. A
// storage failure is logged and the record is still added.
func (r *Registry) synthesizeDefault(ctx context.Context) {
	id := strings.TrimSpace(r.newID())
	title := naming.DefaultName
	if heading, ok := naming.ExtractTitle(r.defaultContent); ok {
		title = heading
	}
	if err := r.saves.Write(ctx, id, r.defaultContent); err != nil {
		r.logger.Warn("store default document failed", "file_id", id, "err", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowLocked()
	r.files = append(r.files, FileRecord{
		ID:        id,
		Name:      naming.EnsureUnique(title, r.files, ""),
		CreatedAt: now,
		UpdatedAt: now,
	})
	r.activeID = id
	r.current = r.defaultContent
	r.savedEdits = r.edits
	r.switchSeq.Add(1)
	r.persistLocked()
}
