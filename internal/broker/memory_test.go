package broker

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBrokerPushAndBlockingPop(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	if err := b.Push(ctx, "queue", []byte("hello")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	value, err := b.BlockingPop(ctx, "queue", time.Second)
	if err != nil {
		t.Fatalf("BlockingPop: %v", err)
	}
	if string(value) != "hello" {
		t.Fatalf("expected hello, got %q", value)
	}
}

func TestMemoryBrokerBlockingPopTimeout(t *testing.T) {
	b := NewMemoryBroker()
	start := time.Now()
	value, err := b.BlockingPop(context.Background(), "empty", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("BlockingPop: %v", err)
	}
	if value != nil {
		t.Fatalf("expected nil on timeout, got %q", value)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("returned too early: %v", elapsed)
	}
}

func TestMemoryBrokerBlockingPopWakesOnPush(t *testing.T) {
	b := NewMemoryBroker()
	done := make(chan []byte, 1)
	go func() {
		v, _ := b.BlockingPop(context.Background(), "queue", 2*time.Second)
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	if err := b.Push(context.Background(), "queue", []byte("woke")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	select {
	case v := <-done:
		if string(v) != "woke" {
			t.Fatalf("expected woke, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("BlockingPop did not wake up after Push")
	}
}

func TestMemoryBrokerSetMembership(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	if err := b.SetAdd(ctx, "workers", "pid-1"); err != nil {
		t.Fatalf("SetAdd: %v", err)
	}
	member, err := b.SetIsMember(ctx, "workers", "pid-1")
	if err != nil || !member {
		t.Fatalf("expected pid-1 to be a member, got %v, err=%v", member, err)
	}

	if err := b.SetRemove(ctx, "workers", "pid-1"); err != nil {
		t.Fatalf("SetRemove: %v", err)
	}
	member, err = b.SetIsMember(ctx, "workers", "pid-1")
	if err != nil || member {
		t.Fatalf("expected pid-1 to be removed, got %v, err=%v", member, err)
	}
}

func TestMemoryBrokerPubSubDeliversInOrder(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "news")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, "news", []byte{byte('a' + i)}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case msg := <-sub.Messages():
			if msg.Payload[0] != byte('a'+i) {
				t.Fatalf("expected message %d to be %c, got %c", i, 'a'+i, msg.Payload[0])
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestMemoryBrokerSubscribeAdditionalChannelKeepsExisting(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "news")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, "news", []byte("queued")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := sub.Subscribe(ctx, "sports"); err != nil {
		t.Fatalf("Subscribe additional: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if string(msg.Payload) != "queued" {
			t.Fatalf("expected queued message to survive resubscribe, got %q", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("queued message was dropped by resubscribe")
	}
}
