package events

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func testBus(t *testing.T) *Bus {
	t.Helper()
	return NewBus(zerolog.New(zerolog.NewTestWriter(t)))
}

func TestBus_PublishDeliversToSubscribers(t *testing.T) {
	bus := testBus(t)
	ctx := context.Background()

	var got []string
	bus.Subscribe(TypeAlbumGrabbed, func(_ context.Context, e Event) {
		got = append(got, "first:"+e.EventType())
	})
	bus.Subscribe(TypeAlbumGrabbed, func(_ context.Context, e Event) {
		got = append(got, "second:"+e.EventType())
	})
	bus.Subscribe(TypeDownloadFailed, func(_ context.Context, e Event) {
		got = append(got, "unrelated")
	})

	bus.Publish(ctx, AlbumGrabbed{DownloadID: "abc"})

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d: %v", len(got), got)
	}
	if got[0] != "first:albumGrabbed" || got[1] != "second:albumGrabbed" {
		t.Errorf("handlers ran out of order or on wrong event: %v", got)
	}
}

func TestBus_PublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := testBus(t)
	bus.Publish(context.Background(), DownloadCompleted{DownloadID: "x"})
}

func TestBus_PanickingHandlerDoesNotStopSiblings(t *testing.T) {
	bus := testBus(t)

	ran := false
	bus.Subscribe(TypeTrackFileImported, func(context.Context, Event) {
		panic("handler blew up")
	})
	bus.Subscribe(TypeTrackFileImported, func(context.Context, Event) {
		ran = true
	})

	bus.Publish(context.Background(), TrackFileImported{})

	if !ran {
		t.Error("second handler did not run after first panicked")
	}
}
