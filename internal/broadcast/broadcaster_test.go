package broadcast

import (
	"sync"
	"testing"
	"time"

	"FlowScope/internal/model"
)

type fakePublisher struct {
	mu     sync.Mutex
	frames []model.Snapshot
	closed bool
}

func (p *fakePublisher) Publish(snap model.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, snap)
	return nil
}

func (p *fakePublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func TestBroadcaster_DeliversFrames(t *testing.T) {
	snapshot := func() model.Snapshot {
		return model.Snapshot{TotalPackets: 42, TakenAt: time.Now()}
	}
	b := New(snapshot, 10*time.Millisecond, nil)
	frames, cancel := b.Subscribe()
	defer cancel()

	b.Start()
	defer b.Stop()

	select {
	case snap := <-frames:
		if snap.TotalPackets != 42 {
			t.Errorf("Expected 42 total packets in the frame, got %d", snap.TotalPackets)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a frame")
	}
}

func TestBroadcaster_SlowSubscriberSkipsFrames(t *testing.T) {
	b := New(func() model.Snapshot { return model.Snapshot{} }, 5*time.Millisecond, nil)
	frames, cancel := b.Subscribe()
	defer cancel()

	b.Start()
	// Never read from frames; ticks must keep flowing regardless.
	time.Sleep(50 * time.Millisecond)
	b.Stop()

	// The unread channel holds at most its buffer; the broadcaster never
	// blocked on it.
	if n := len(frames); n > 2 {
		t.Errorf("Expected the slow subscriber to hold at most its buffer, got %d queued frames", n)
	}
}

func TestBroadcaster_PublisherReceivesTicks(t *testing.T) {
	pub := &fakePublisher{}
	b := New(func() model.Snapshot { return model.Snapshot{TotalBytes: 7} }, 5*time.Millisecond, pub)
	b.Start()

	deadline := time.After(5 * time.Second)
	for pub.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Timed out: publisher saw %d frames", pub.count())
		case <-time.After(time.Millisecond):
		}
	}
	b.Stop()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if !pub.closed {
		t.Error("Stop did not close the publisher")
	}
	if pub.frames[0].TotalBytes != 7 {
		t.Errorf("Expected the snapshot payload, got %+v", pub.frames[0])
	}
}

func TestBroadcaster_CancelUnsubscribes(t *testing.T) {
	b := New(func() model.Snapshot { return model.Snapshot{} }, 5*time.Millisecond, nil)
	frames, cancel := b.Subscribe()

	b.Start()
	cancel()
	b.Stop()

	// The channel is closed either by cancel or by Stop; a receive must
	// not hang.
	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("Subscription channel still open after cancel and Stop")
	}
}
