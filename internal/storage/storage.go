package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	ErrWriteFailed  = errors.New("durable write failed")
	ErrDeleteFailed = errors.New("durable delete failed")
	ErrInvalidInput = errors.New("invalid input")
)

const UnavailableMessage = "durable storage is unavailable; content is kept in memory only and will be lost when the process exits"

var errNoDurableBackend = errors.New("no durable backend configured")

// Durable is a persistent id -> content store. Open is called at most once.
type Durable interface {
	Open(ctx context.Context) error
	Get(ctx context.Context, id string) (content string, found bool, err error)
	Put(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
	Close() error
}

type Options struct {
	Logger *slog.Logger
}

// Storage serves document content from a Durable backend and keeps an
// in-process mirror of every write. When the backend cannot be opened it
// switches to the mirror for the rest of its life.
type Storage struct {
	durable Durable
	logger  *slog.Logger

	openOnce    sync.Once
	openErr     error
	unavailable atomic.Bool

	mu     sync.RWMutex
	mirror map[string]string
}

func New(durable Durable, opts Options) *Storage {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Storage{
		durable: durable,
		logger:  logger,
		mirror:  map[string]string{},
	}
}

func (s *Storage) Get(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !s.ready(ctx) {
		return s.mirrored(id), nil
	}
	content, found, err := s.durable.Get(ctx, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		s.logger.Warn("durable read failed, serving from memory", "file_id", id, "err", err)
		return s.mirrored(id), nil
	}
	if !found {
		return "", nil
	}
	return content, nil
}

func (s *Storage) Put(ctx context.Context, id, content string) error {
	s.mu.Lock()
	s.mirror[id] = content
	s.mu.Unlock()

	if !s.ready(ctx) {
		return nil
	}
	if err := s.durable.Put(ctx, id, content); err != nil {
		return fmt.Errorf("put %s: %w: %w", id, ErrWriteFailed, err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.mirror, id)
	s.mu.Unlock()

	if !s.ready(ctx) {
		return nil
	}
	if err := s.durable.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w: %w", id, ErrDeleteFailed, err)
	}
	return nil
}

// Unavailable reports whether the storage has fallen back to memory only.
// It never flips back.
func (s *Storage) Unavailable() bool {
	return s.unavailable.Load()
}

func (s *Storage) UnavailableReason() string {
	if !s.unavailable.Load() {
		return ""
	}
	return UnavailableMessage
}

// OpenError returns the error that caused degraded mode, if any.
func (s *Storage) OpenError() error {
	if !s.unavailable.Load() {
		return nil
	}
	return s.openErr
}

func (s *Storage) MirrorLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mirror)
}

func (s *Storage) Close() error {
	s.mu.Lock()
	s.mirror = map[string]string{}
	s.mu.Unlock()
	if s.durable == nil || s.unavailable.Load() {
		return nil
	}
	return s.durable.Close()
}

func (s *Storage) ready(ctx context.Context) bool {
	s.openOnce.Do(func() {
		if s.durable == nil {
			s.openErr = errNoDurableBackend
		} else {
			s.openErr = s.durable.Open(context.WithoutCancel(ctx))
		}
		if s.openErr != nil {
			s.unavailable.Store(true)
			s.logger.Warn("durable storage unavailable, falling back to memory", "err", s.openErr)
		}
	})
	return s.openErr == nil
}

func (s *Storage) mirrored(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mirror[id]
}
