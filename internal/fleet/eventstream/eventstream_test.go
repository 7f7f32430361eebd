package eventstream

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tcfs-dev/tcfs/internal/clock"
)

func testPublishAndConsume(t *testing.T, stream EventStream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := stream.Subscribe(ctx, "device-b")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	vc := clock.Tick(clock.New(), "device-a")
	event := NewFileSynced("device-a", "/notes.txt", "abc123", vc)
	if err := stream.Publish(ctx, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Type != EventFileSynced || got.Path != "/notes.txt" || got.FileHash != "abc123" {
		t.Fatalf("got %+v, want matching FileSynced event", got)
	}

	if err := sub.Ack(ctx, got); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestMemStreamPublishAndConsume(t *testing.T) {
	testPublishAndConsume(t, NewMemStream(8))
}

func TestBoltStreamPublishAndConsume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	stream, err := OpenBoltStream(path, 7)
	if err != nil {
		t.Fatalf("OpenBoltStream: %v", err)
	}
	defer CloseBoltStream(stream)
	testPublishAndConsume(t, stream)
}

func TestBoltStreamRedeliversUnackedEventAfterResubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	stream, err := OpenBoltStream(path, 7)
	if err != nil {
		t.Fatalf("OpenBoltStream: %v", err)
	}
	defer CloseBoltStream(stream)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	event := NewFileDeleted("device-a", "/old.txt", clock.New())
	if err := stream.Publish(ctx, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	sub1, err := stream.Subscribe(ctx, "device-b")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := sub1.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	sub1.Close() // no Ack: simulates a crash between receive and ack

	sub2, err := stream.Subscribe(ctx, "device-b")
	if err != nil {
		t.Fatalf("re-Subscribe: %v", err)
	}
	redelivered, err := sub2.Next(ctx)
	if err != nil {
		t.Fatalf("Next after resubscribe: %v", err)
	}
	if redelivered.Path != "/old.txt" {
		t.Fatalf("expected redelivery of unacked event, got %+v", redelivered)
	}
}

func TestBoltStreamCursorsAreIndependentPerConsumer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	stream, err := OpenBoltStream(path, 7)
	if err != nil {
		t.Fatalf("OpenBoltStream: %v", err)
	}
	defer CloseBoltStream(stream)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	event := NewDeviceOnline("device-a")
	if err := stream.Publish(ctx, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	subB, _ := stream.Subscribe(ctx, "device-b")
	gotB, err := subB.Next(ctx)
	if err != nil {
		t.Fatalf("Next for device-b: %v", err)
	}
	if err := subB.Ack(ctx, gotB); err != nil {
		t.Fatalf("Ack for device-b: %v", err)
	}

	subC, _ := stream.Subscribe(ctx, "device-c")
	gotC, err := subC.Next(ctx)
	if err != nil {
		t.Fatalf("device-c should still see the event despite device-b's ack: %v", err)
	}
	if gotC.Type != EventDeviceOnline {
		t.Fatalf("unexpected event for device-c: %+v", gotC)
	}
}
