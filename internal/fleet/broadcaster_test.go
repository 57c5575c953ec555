package fleet

import (
	"testing"

	"github.com/narvanalabs/gpufleet/internal/models"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster(2)
	a, cancelA := b.Subscribe()
	c, cancelC := b.Subscribe()
	defer cancelA()
	defer cancelC()

	if b.Subscribers() != 2 {
		t.Fatalf("subscribers = %d", b.Subscribers())
	}

	b.Publish(models.WorkerStatus{ID: "w1"})

	if got := <-a; got.ID != "w1" {
		t.Errorf("a got %+v", got)
	}
	if got := <-c; got.ID != "w1" {
		t.Errorf("c got %+v", got)
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewBroadcaster(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(models.WorkerStatus{ID: "first"})
	b.Publish(models.WorkerStatus{ID: "second"})

	if got := <-ch; got.ID != "first" {
		t.Errorf("got %s, want first", got.ID)
	}
	select {
	case got := <-ch:
		t.Errorf("unexpected %s", got.ID)
	default:
	}
}

func TestBroadcasterCancel(t *testing.T) {
	b := NewBroadcaster(0)
	ch, cancel := b.Subscribe()

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	if b.Subscribers() != 0 {
		t.Errorf("subscribers = %d", b.Subscribers())
	}
	b.Publish(models.WorkerStatus{ID: "w1"})
}
