package executor

import (
	"testing"
	"time"
)

func TestFIFOOrdering(t *testing.T) {
	e := New()
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		e.QueueJob(func() { order = append(order, i) })
	}
	e.Stop()
	e.Run()

	want := []int{0, 1, 2, 3, 4}
	if len(order) != len(want) {
		t.Fatalf("ran %d jobs, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
}

func TestRunOneBlocksUntilJobQueued(t *testing.T) {
	e := New()
	done := make(chan struct{})

	go func() {
		e.RunOne()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("RunOne returned before any job was queued")
	case <-time.After(20 * time.Millisecond):
	}

	e.QueueJob(func() {})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunOne never returned after a job was queued")
	}
}

func TestStopWakesIdleRunOne(t *testing.T) {
	e := New()
	ranJob := make(chan bool, 1)

	go func() {
		ranJob <- e.RunOne()
	}()

	time.Sleep(20 * time.Millisecond)
	e.Stop()

	select {
	case ran := <-ranJob:
		if ran {
			t.Fatal("RunOne reported running a job that was never queued")
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not wake a blocked RunOne")
	}
}

func TestNotifyExpectWorkRearms(t *testing.T) {
	e := New()
	e.Stop()
	if e.RunOne() {
		t.Fatal("expected RunOne to report no job run on a stopped, empty executor")
	}

	e.NotifyExpectWork()
	ran := make(chan struct{})
	go e.RunOne()
	e.QueueJob(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("queued job never ran after re-arming")
	}
}
