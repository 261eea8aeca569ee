package files

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/agentworkforce/mdtabs/internal/metastore"
	"github.com/agentworkforce/mdtabs/internal/naming"
	"github.com/agentworkforce/mdtabs/internal/savesched"
)

var (
	ErrNotFound     = errors.New("file not found")
	ErrInvalidInput = errors.New("invalid input")
)

//go:embed default.md
var DefaultContent string

type FileRecord = metastore.FileRecord

type ContentStore interface {
	Get(ctx context.Context, id string) (string, error)
	Put(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
}

type availabilityReporter interface {
	Unavailable() bool
	UnavailableReason() string
}

type NoticeKind string

const (
	NoticeSaveFailed         NoticeKind = "save_failed"
	NoticeCreateFailed       NoticeKind = "create_failed"
	NoticeStorageUnavailable NoticeKind = "storage_unavailable"
)

// Notice is a user-facing signal. Delivery is synchronous on the goroutine
// that produced it.
type Notice struct {
	Kind    NoticeKind
	FileID  string
	Message string
	Err     error
}

type Options struct {
	Meta           metastore.Store
	SaveDelay      time.Duration
	DefaultContent string
	Origin         string
	Clock          func() time.Time
	NewID          func() string
	Logger         *slog.Logger
	Notify         func(Notice)
}

// Registry owns the open file list, the active file pointer and the working
// copy of the active file's content.
type Registry struct {
	content        ContentStore
	saves          *savesched.Scheduler
	meta           metastore.Store
	logger         *slog.Logger
	notify         func(Notice)
	clock          func() time.Time
	newID          func() string
	defaultContent string
	origin         string

	mu            sync.Mutex
	files         []FileRecord
	activeID      string
	current       string
	initialized   bool
	hydrated      bool
	lastSaveError string
	lastStamp     int64
	// edits counts changes to current; savedEdits is the count last known
	// to match storage.
	edits      uint64
	savedEdits uint64

	switchSeq atomic.Uint64
	initGroup singleflight.Group
}

func New(content ContentStore, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	defaultContent := opts.DefaultContent
	if defaultContent == "" {
		defaultContent = DefaultContent
	}
	notify := opts.Notify
	if notify == nil {
		notify = func(Notice) {}
	}
	return &Registry{
		content:        content,
		saves:          savesched.New(content, savesched.Options{Delay: opts.SaveDelay}),
		meta:           opts.Meta,
		logger:         logger,
		notify:         notify,
		clock:          clock,
		newID:          newID,
		defaultContent: defaultContent,
		origin:         strings.TrimSpace(opts.Origin),
	}
}

// Hydrate loads persisted metadata. The registry counts as hydrated even
// when loading fails.
func (r *Registry) Hydrate() error {
	r.mu.Lock()
	if r.hydrated {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	var snapshot *metastore.Snapshot
	var err error
	if r.meta != nil {
		snapshot, err = r.meta.Load()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.hydrated = true
	if err != nil {
		r.logger.Error("rehydrate metadata failed", "err", err)
		return err
	}
	if snapshot == nil {
		return nil
	}
	r.files = repairRecords(snapshot.State.Files)
	r.activeID = snapshot.ActiveID()
	r.bumpStampLocked(r.files)
	return nil
}

func (r *Registry) Files() []FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.files)
}

func (r *Registry) ActiveFileID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

func (r *Registry) ActiveFile() (FileRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(r.activeID); idx >= 0 {
		return r.files[idx], true
	}
	return FileRecord{}, false
}

func (r *Registry) CurrentContent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Registry) IsInitialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

func (r *Registry) HasHydrated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hydrated
}

func (r *Registry) LastSaveError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSaveError
}

// Lookup resolves ref as an id first, then as a case-insensitive name with
// or without the extension.
func (r *Registry) Lookup(ref string) (FileRecord, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return FileRecord{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(ref); idx >= 0 {
		return r.files[idx], true
	}
	normalized := naming.Normalize(ref)
	for _, f := range r.files {
		if strings.EqualFold(f.Name, ref) || strings.EqualFold(f.Name, normalized) {
			return f, true
		}
	}
	return FileRecord{}, false
}

// ContentOf returns the working copy for the active file and stored content
// for any other file.
func (r *Registry) ContentOf(ctx context.Context, id string) (string, error) {
	r.mu.Lock()
	if r.indexLocked(id) < 0 {
		r.mu.Unlock()
		return "", ErrNotFound
	}
	if id == r.activeID {
		content := r.current
		r.mu.Unlock()
		return content, nil
	}
	r.mu.Unlock()
	return r.content.Get(ctx, id)
}

// ApplyRemoteFiles replaces the file list with one observed in another
// context. The active pointer is left alone.
func (r *Registry) ApplyRemoteFiles(records []FileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = slices.Clone(records)
	r.bumpStampLocked(r.files)
	r.persistLocked()
}

// Flush writes the working copy of the active file immediately. A buffer
// with no unsaved edits is left alone.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	id, content, gen := r.activeID, r.current, r.edits
	if gen == r.savedEdits || r.indexLocked(id) < 0 {
		r.mu.Unlock()
		return nil
	}
	r.saves.Cancel(id)
	r.mu.Unlock()

	wrote, err := r.saves.WriteIf(ctx, id, content, func() bool { return r.hasFile(id) })
	if err != nil {
		r.logger.Warn("flush failed", "file_id", id, "err", err)
		return err
	}
	if wrote {
		r.markSaved(id, gen)
	}
	return nil
}

func (r *Registry) Close() {
	r.saves.Close()
}

func (r *Registry) hasFile(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexLocked(id) >= 0
}

func (r *Registry) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(r.files, func(f FileRecord) bool { return f.ID == id })
}

// nowLocked returns a millisecond timestamp that never goes backwards.
func (r *Registry) nowLocked() int64 {
	now := r.clock().UnixMilli()
	if now < r.lastStamp {
		now = r.lastStamp
	}
	r.lastStamp = now
	return now
}

func (r *Registry) bumpStampLocked(records []FileRecord) {
	for _, f := range records {
		r.lastStamp = max(r.lastStamp, f.CreatedAt, f.UpdatedAt)
	}
}

func (r *Registry) persistLocked() {
	if r.meta == nil {
		return
	}
	if err := r.meta.Save(metastore.NewSnapshot(r.files, r.activeID, r.origin)); err != nil {
		r.logger.Warn("persist metadata failed", "err", err)
	}
}

// markSaved records that edit gen of id reached storage.
func (r *Registry) markSaved(id string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == r.activeID && gen > r.savedEdits {
		r.savedEdits = gen
	}
	idx := r.indexLocked(id)
	if idx < 0 {
		return
	}
	r.files[idx].UpdatedAt = r.nowLocked()
	r.persistLocked()
}

func (r *Registry) saveFailed(id string, err error) {
	r.mu.Lock()
	r.lastSaveError = err.Error()
	r.mu.Unlock()
	r.logger.Error("save failed", "file_id", id, "err", err)
	r.notify(Notice{Kind: NoticeSaveFailed, FileID: id, Message: "save failed: " + err.Error(), Err: err})
}

// repairRecords drops records without an id or with a repeated id and
// renames case-insensitive duplicates.
func repairRecords(records []FileRecord) []FileRecord {
	out := make([]FileRecord, 0, len(records))
	seen := map[string]struct{}{}
	for _, f := range records {
		if strings.TrimSpace(f.ID) == "" {
			continue
		}
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		f.Name = naming.EnsureUnique(f.Name, out, "")
		out = append(out, f)
	}
	return out
}
