package savesched

import (
	"context"
	"sync"
	"time"
)

const DefaultDelay = 500 * time.Millisecond

type Writer interface {
	Put(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
}

type Options struct {
	Delay time.Duration
}

// Scheduler debounces content writes per document id. All writes and
// deletes for one id run one at a time, and a write issued before a newer
// one that already ran is dropped.
type Scheduler struct {
	writer Writer
	delay  time.Duration

	mu      sync.Mutex
	pending map[string]*task
	lanes   map[string]*lane
	closed  bool
}

type task struct {
	timer *time.Timer
}

type lane struct {
	mu      sync.Mutex
	applied uint64

	// guarded by Scheduler.mu
	issued uint64
	refs   int
}

func New(writer Writer, opts Options) *Scheduler {
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{
		writer:  writer,
		delay:   delay,
		pending: map[string]*task{},
		lanes:   map[string]*lane{},
	}
}

func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Schedule replaces any pending write for id with one that fires after the
// configured delay.
func (s *Scheduler) Schedule(id, content string, onSuccess func(), onError func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancelLocked(id)
	t := &task{}
	t.timer = time.AfterFunc(s.delay, func() {
		s.fire(id, t, content, onSuccess, onError)
	})
	s.pending[id] = t
}

// Cancel drops the pending write for id. It reports whether one was pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(id)
}

func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// Write stores content for id immediately, ordered after any write for id
// that has already started.
func (s *Scheduler) Write(ctx context.Context, id, content string) error {
	_, err := s.WriteIf(ctx, id, content, nil)
	return err
}

// WriteIf is Write guarded by keep, which is evaluated once every earlier
// write or delete for id has finished. It reports whether content was
// written. A nil keep always writes.
func (s *Scheduler) WriteIf(ctx context.Context, id, content string, keep func() bool) (bool, error) {
	l, seq := s.issue(id)
	defer s.release(id, l)
	wrote := false
	_, err := s.run(l, seq, func() error {
		if keep != nil && !keep() {
			return nil
		}
		wrote = true
		return s.writer.Put(ctx, id, content)
	})
	return wrote, err
}

// Purge cancels the pending write for id and deletes its content.
func (s *Scheduler) Purge(ctx context.Context, id string) error {
	s.mu.Lock()
	s.cancelLocked(id)
	l, seq := s.issueLocked(id)
	s.mu.Unlock()
	defer s.release(id, l)
	_, err := s.run(l, seq, func() error {
		return s.writer.Delete(ctx, id)
	})
	return err
}

// Close stops every pending timer. Later calls to Schedule are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id := range s.pending {
		s.cancelLocked(id)
	}
}

func (s *Scheduler) fire(id string, t *task, content string, onSuccess func(), onError func(error)) {
	s.mu.Lock()
	if s.pending[id] != t {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	l, seq := s.issueLocked(id)
	s.mu.Unlock()

	ran, err := s.run(l, seq, func() error {
		return s.writer.Put(context.Background(), id, content)
	})
	s.release(id, l)
	if !ran {
		return
	}
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}
	if onSuccess != nil {
		onSuccess()
	}
}

func (s *Scheduler) cancelLocked(id string) bool {
	t, ok := s.pending[id]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.pending, id)
	return true
}

func (s *Scheduler) issue(id string) (*lane, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(id)
}

func (s *Scheduler) issueLocked(id string) (*lane, uint64) {
	l, ok := s.lanes[id]
	if !ok {
		l = &lane{}
		s.lanes[id] = l
	}
	l.issued++
	l.refs++
	return l, l.issued
}

func (s *Scheduler) release(id string, l *lane) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 && s.lanes[id] == l {
		delete(s.lanes, id)
	}
}

func (s *Scheduler) run(l *lane, seq uint64, op func() error) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq < l.applied {
		return false, nil
	}
	l.applied = seq
	return true, op()
}
