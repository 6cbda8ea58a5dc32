package events_test

import (
	"testing"

	"github.com/ardanlabs/chainnode/foundation/events"
)

func Test_SendRelease(t *testing.T) {
	evts := events.New[string](1)

	ch1 := evts.Acquire("one")
	ch2 := evts.Acquire("two")

	if same := evts.Acquire("one"); same != ch1 {
		t.Fatalf("Should get back the same channel for the same id.")
	}

	if dropped := evts.Send("first"); len(dropped) != 0 {
		t.Logf("got: %v", dropped)
		t.Fatalf("Should not drop a message when the buffers are empty.")
	}

	dropped := evts.Send("second")
	if len(dropped) != 2 {
		t.Logf("got: %d", len(dropped))
		t.Logf("exp: %d", 2)
		t.Fatalf("Should drop the message for receivers with a full buffer.")
	}

	if msg := <-ch1; msg != "first" {
		t.Fatalf("Should receive the first message, got %q.", msg)
	}
	<-ch2

	if err := evts.Release("one"); err != nil {
		t.Fatalf("Should be able to release a channel: %s", err)
	}

	if _, open := <-ch1; open {
		t.Fatalf("Should have a closed channel after release.")
	}

	if err := evts.Release("one"); err == nil {
		t.Fatalf("Should not be able to release a channel twice.")
	}

	if evts.Len() != 1 {
		t.Fatalf("Should have one receiver left, got %d.", evts.Len())
	}

	evts.Shutdown()
	if _, open := <-ch2; open {
		t.Fatalf("Should have a closed channel after shutdown.")
	}
}
