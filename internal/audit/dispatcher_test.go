package audit

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

// blockingSink parks the dispatch goroutine until released, so tests can
// fill the buffer deterministically.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (s *blockingSink) Emit(ctx context.Context, event Event) {
	s.entered <- struct{}{}
	<-s.release
}

func TestNewDispatcherDisabled(t *testing.T) {
	if d := NewDispatcher(Options{Enabled: false}, NewChannelSink(1)); d != nil {
		t.Fatal("disabled options must yield a nil dispatcher")
	}
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Emit(context.Background(), Event{EventType: EventSignOut})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDelivers(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Options{Enabled: true, BufferSize: 8}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{EventType: EventSignInSuccess, UserID: "u1"})

	select {
	case event := <-sink.Events():
		if event.EventType != EventSignInSuccess || event.UserID != "u1" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestCloseDrainsBufferedEvents(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(Options{Enabled: true, BufferSize: 16}, NewJSONWriterSink(&buf))

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: EventSignOut, Timestamp: time.Now()})
	}
	d.Close()

	lines := strings.Count(buf.String(), "\n")
	if lines != 5 {
		t.Fatalf("expected 5 drained events, got %d:\n%s", lines, buf.String())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	d := NewDispatcher(Options{Enabled: true, BufferSize: 1}, NoOpSink{})
	d.Close()
	d.Close()

	// Emit after Close is a silent no-op.
	d.Emit(context.Background(), Event{EventType: EventSignOut})
}

func TestDropIfFullCountsDiscards(t *testing.T) {
	sink := newBlockingSink()
	d := NewDispatcher(Options{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event is picked up and parks the goroutine inside the sink.
	d.Emit(context.Background(), Event{EventType: EventRateLimited})
	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatal("dispatch goroutine never reached the sink")
	}

	// Second event fills the buffer; the third has nowhere to go.
	d.Emit(context.Background(), Event{EventType: EventRateLimited})
	d.Emit(context.Background(), Event{EventType: EventRateLimited})

	if got := d.Dropped(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}

	close(sink.release)
	d.Close()
}

func TestBlockingEmitHonorsContext(t *testing.T) {
	sink := newBlockingSink()
	d := NewDispatcher(Options{Enabled: true, BufferSize: 1}, sink)

	d.Emit(context.Background(), Event{EventType: EventSignOut})
	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatal("dispatch goroutine never reached the sink")
	}
	d.Emit(context.Background(), Event{EventType: EventSignOut})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		d.Emit(ctx, Event{EventType: EventSignOut})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit must give up on a cancelled context")
	}

	close(sink.release)
	d.Close()
}

func TestJSONWriterSinkShape(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{
		EventType: EventSignInFailure,
		UserID:    "u1",
		Path:      "/sign-in/email",
		Error:     "invalid credentials",
	})

	line := buf.String()
	for _, want := range []string{`"event_type":"sign_in_failure"`, `"user_id":"u1"`, `"path":"/sign-in/email"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("line missing %s: %s", want, line)
		}
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatal("each event must end with a newline")
	}
}
