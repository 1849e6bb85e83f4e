package broadcast

import "testing"

func TestTopicDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	topic := NewTopic[int](4)
	a := topic.Subscribe()
	b := topic.Subscribe()

	topic.Publish(1)

	if got := <-a.C(); got != 1 {
		t.Fatalf("subscriber a got %d, want 1", got)
	}
	if got := <-b.C(); got != 1 {
		t.Fatalf("subscriber b got %d, want 1", got)
	}
}

func TestTopicDropsOldestOnOverflow(t *testing.T) {
	t.Parallel()

	topic := NewTopic[int](2)
	sub := topic.Subscribe()

	// Fill the buffer, then overflow it: the oldest entry (1) should be
	// evicted, leaving 2 and 3 behind.
	topic.Publish(1)
	topic.Publish(2)
	topic.Publish(3)

	first := <-sub.C()
	second := <-sub.C()

	if first != 2 || second != 3 {
		t.Fatalf("got (%d, %d), want (2, 3) after dropping oldest", first, second)
	}
	if dropped := sub.DroppedSinceLast(); dropped != 1 {
		t.Fatalf("DroppedSinceLast() = %d, want 1", dropped)
	}
}

func TestDroppedSinceLastResetsAfterRead(t *testing.T) {
	t.Parallel()

	topic := NewTopic[int](1)
	sub := topic.Subscribe()

	topic.Publish(1)
	topic.Publish(2) // drops 1
	topic.Publish(3) // drops 2

	if dropped := sub.DroppedSinceLast(); dropped != 2 {
		t.Fatalf("DroppedSinceLast() = %d, want 2", dropped)
	}
	if dropped := sub.DroppedSinceLast(); dropped != 0 {
		t.Fatalf("second DroppedSinceLast() = %d, want 0 (reset)", dropped)
	}
}

func TestUnsubscribeRemovesConsumer(t *testing.T) {
	t.Parallel()

	topic := NewTopic[int](2)
	sub := topic.Subscribe()
	sub.Unsubscribe()

	topic.mu.Lock()
	n := len(topic.subscribers)
	topic.mu.Unlock()

	if n != 0 {
		t.Fatalf("subscribers after Unsubscribe = %d, want 0", n)
	}
}

func TestPublishNeverBlocksOnFullQueue(t *testing.T) {
	t.Parallel()

	topic := NewTopic[int](1)
	_ = topic.Subscribe() // never drains

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			topic.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	default:
	}
	<-done
}
