package stream

import (
	"context"
	"testing"
	"time"
)

func TestSubscribeAndPublish(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch := s.Subscribe(ctx)
	evt := CommitEvent{Operation: "Join", Org: "Org2", Timestamp: time.Now()}
	s.Publish(evt)

	select {
	case got := <-ch:
		if got.Operation != "Join" || got.Org != "Org2" {
			t.Fatalf("event = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case _, open := <-ch:
		if open {
			t.Fatal("channel should be closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Publishing after the subscriber left must not block.
	s.Publish(evt)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Subscribe(ctx)
	for i := 0; i < 100; i++ {
		s.Publish(CommitEvent{Operation: "UpdateMOU"})
	}
}
