package savesched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingWriter struct {
	mu      sync.Mutex
	puts    []string
	deletes []string
	content map[string]string
	putErr  error
	block   map[string]chan struct{}
	started chan string
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{
		content: map[string]string{},
		block:   map[string]chan struct{}{},
		started: make(chan string, 16),
	}
}

func (w *recordingWriter) Put(_ context.Context, id, content string) error {
	w.mu.Lock()
	gate := w.block[content]
	w.mu.Unlock()
	w.started <- content
	if gate != nil {
		<-gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.putErr != nil {
		return w.putErr
	}
	w.puts = append(w.puts, id+"="+content)
	w.content[id] = content
	return nil
}

func (w *recordingWriter) Delete(_ context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deletes = append(w.deletes, id)
	delete(w.content, id)
	return nil
}

func (w *recordingWriter) snapshot() ([]string, map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	content := make(map[string]string, len(w.content))
	for k, v := range w.content {
		content[k] = v
	}
	return append([]string(nil), w.puts...), content
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestScheduleCoalescesRapidEdits(t *testing.T) {
	writer := newRecordingWriter()
	s := New(writer, Options{Delay: 30 * time.Millisecond})
	defer s.Close()

	var successes sync.WaitGroup
	successes.Add(1)
	for _, content := range []string{"a", "ab", "abc"} {
		s.Schedule("doc", content, successes.Done, func(err error) {
			t.Errorf("unexpected save error: %v", err)
		})
	}
	successes.Wait()

	time.Sleep(60 * time.Millisecond)
	puts, content := writer.snapshot()
	if len(puts) != 1 || puts[0] != "doc=abc" {
		t.Fatalf("expected exactly one write of the last content, got %v", puts)
	}
	if content["doc"] != "abc" {
		t.Fatalf("expected stored content 'abc', got %q", content["doc"])
	}
	if s.Pending("doc") {
		t.Fatalf("expected nothing pending after fire")
	}
}

func TestScheduleKeepsIDsIndependent(t *testing.T) {
	writer := newRecordingWriter()
	s := New(writer, Options{Delay: 10 * time.Millisecond})
	defer s.Close()

	s.Schedule("a", "one", nil, nil)
	s.Schedule("b", "two", nil, nil)
	waitFor(t, time.Second, func() bool {
		_, content := writer.snapshot()
		return content["a"] == "one" && content["b"] == "two"
	})
}

func TestCancelPreventsWrite(t *testing.T) {
	writer := newRecordingWriter()
	s := New(writer, Options{Delay: 20 * time.Millisecond})
	defer s.Close()

	s.Schedule("doc", "never", func() { t.Errorf("cancelled save must not succeed") }, nil)
	if !s.Pending("doc") {
		t.Fatalf("expected pending save")
	}
	if !s.Cancel("doc") {
		t.Fatalf("expected cancel to report a pending save")
	}
	if s.Cancel("doc") {
		t.Fatalf("expected second cancel to be a no-op")
	}
	time.Sleep(50 * time.Millisecond)
	if puts, _ := writer.snapshot(); len(puts) != 0 {
		t.Fatalf("expected no writes after cancel, got %v", puts)
	}
}

func TestScheduleReportsErrors(t *testing.T) {
	writer := newRecordingWriter()
	writer.putErr = errors.New("disk full")
	s := New(writer, Options{Delay: 5 * time.Millisecond})
	defer s.Close()

	errs := make(chan error, 1)
	s.Schedule("doc", "x", func() { t.Errorf("expected failure") }, func(err error) { errs <- err })
	select {
	case err := <-errs:
		if !errors.Is(err, writer.putErr) {
			t.Fatalf("expected disk full error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected error callback")
	}
}

func TestWriteWaitsForInFlightWrite(t *testing.T) {
	writer := newRecordingWriter()
	gate := make(chan struct{})
	writer.block["old"] = gate
	s := New(writer, Options{Delay: 5 * time.Millisecond})
	defer s.Close()

	s.Schedule("doc", "old", nil, nil)
	if got := <-writer.started; got != "old" {
		t.Fatalf("expected scheduled write to start first, got %q", got)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Write(context.Background(), "doc", "new")
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("write failed: %v", err)
	}
	puts, content := writer.snapshot()
	if content["doc"] != "new" {
		t.Fatalf("expected newest write to land last, got %q (puts %v)", content["doc"], puts)
	}
}

func TestSupersededWriteIsDropped(t *testing.T) {
	writer := newRecordingWriter()
	s := New(writer, Options{})

	older, olderSeq := s.issue("doc")
	newer, newerSeq := s.issue("doc")
	if older != newer {
		t.Fatalf("expected one lane per id")
	}
	ran, err := s.run(newer, newerSeq, func() error { return writer.Put(context.Background(), "doc", "newer") })
	if !ran || err != nil {
		t.Fatalf("expected newer write to run, got ran=%v err=%v", ran, err)
	}
	ran, _ = s.run(older, olderSeq, func() error { return writer.Put(context.Background(), "doc", "older") })
	if ran {
		t.Fatalf("expected older write to be dropped")
	}
	s.release("doc", older)
	s.release("doc", newer)
	if len(s.lanes) != 0 {
		t.Fatalf("expected idle lane to be released, got %d", len(s.lanes))
	}
	if _, content := writer.snapshot(); content["doc"] != "newer" {
		t.Fatalf("expected newer content, got %q", content["doc"])
	}
}

func TestPurgeCancelsAndDeletes(t *testing.T) {
	writer := newRecordingWriter()
	s := New(writer, Options{Delay: 20 * time.Millisecond})
	defer s.Close()

	if err := s.Write(context.Background(), "doc", "saved"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	<-writer.started
	s.Schedule("doc", "resurrected", nil, nil)
	if err := s.Purge(context.Background(), "doc"); err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	_, content := writer.snapshot()
	if _, ok := content["doc"]; ok {
		t.Fatalf("expected purged content to stay gone, got %q", content["doc"])
	}
}

func TestWriteIfChecksAfterEarlierWrites(t *testing.T) {
	writer := newRecordingWriter()
	s := New(writer, Options{})
	defer s.Close()
	gate := make(chan struct{})
	writer.block["first"] = gate

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.Write(context.Background(), "doc", "first") }()
	if got := <-writer.started; got != "first" {
		t.Fatalf("expected first write to start, got %q", got)
	}

	var mu sync.Mutex
	live := true
	result := make(chan bool, 1)
	go func() {
		wrote, err := s.WriteIf(context.Background(), "doc", "stale", func() bool {
			mu.Lock()
			defer mu.Unlock()
			return live
		})
		if err != nil {
			t.Errorf("write if: %v", err)
		}
		result <- wrote
	}()
	waitFor(t, time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		l := s.lanes["doc"]
		return l != nil && l.refs == 2
	})
	mu.Lock()
	live = false
	mu.Unlock()
	close(gate)

	if err := <-firstDone; err != nil {
		t.Fatalf("first write: %v", err)
	}
	if <-result {
		t.Fatalf("expected guarded write to be skipped")
	}
	if _, content := writer.snapshot(); content["doc"] != "first" {
		t.Fatalf("expected first content kept, got %q", content["doc"])
	}
}

func TestCloseStopsTimers(t *testing.T) {
	writer := newRecordingWriter()
	s := New(writer, Options{Delay: 10 * time.Millisecond})
	s.Schedule("doc", "x", nil, nil)
	s.Close()
	s.Schedule("doc", "y", nil, nil)
	time.Sleep(40 * time.Millisecond)
	if puts, _ := writer.snapshot(); len(puts) != 0 {
		t.Fatalf("expected closed scheduler not to write, got %v", puts)
	}
}

func TestDefaultDelay(t *testing.T) {
	if got := New(newRecordingWriter(), Options{}).Delay(); got != DefaultDelay {
		t.Fatalf("expected default delay %s, got %s", DefaultDelay, got)
	}
}
