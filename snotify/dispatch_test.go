//go:build linux

package snotify

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// TestDropSiblingMidDispatch is spec.md Scenario C: S1's callback drops
// S2, which is later in the list and hasn't been visited yet. S2 must not
// fire this dispatch and must be gone from the registry afterward.
func TestDropSiblingMidDispatch(t *testing.T) {
	loop := startLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "passwd")
	writeFile(t, path, "root:x:0:0\n")

	ctx, err := Create(loop, path, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { ctx.Close() })

	var s1Fired, s2Fired int32
	var s2 *Subscription
	done := make(chan struct{})
	loop.Invoke(func() {
		_, _ = ctx.AddWatch(OpModify, func(string, any) int {
			atomic.AddInt32(&s1Fired, 1)
			s2.Close()
			return 0
		}, nil)
		s2, _ = ctx.AddWatch(OpModify, func(string, any) int {
			atomic.AddInt32(&s2Fired, 1)
			return 0
		}, nil)
		close(done)
	})
	<-done

	writeFile(t, path, "root:x:0:0\nuser:x:1:1\n")

	if !waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&s1Fired) == 1 }) {
		t.Fatalf("s1 never fired")
	}
	time.Sleep(250 * time.Millisecond)

	if got := atomic.LoadInt32(&s2Fired); got != 0 {
		t.Fatalf("s2 fired %d times, want 0", got)
	}
	if got := subCount(loop, ctx); got != 1 {
		t.Fatalf("expected 1 live subscription after drop, got %d", got)
	}
}

// TestDropNonLastSiblingMidDispatch is a regression test for dispatch
// snapshotting only the slice header rather than copying the backing
// array: with three live subscriptions S1, S2, S3, S1's callback drops
// S2 (not the last element). forget's append-based removal shifts S3
// down into S2's old slot in the shared backing array; a dispatch loop
// walking that same array would then see S3 twice and never see the
// shift as having happened to the index it already visited. S3 must
// fire exactly once, and S2 must not fire at all.
func TestDropNonLastSiblingMidDispatch(t *testing.T) {
	loop := startLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "passwd")
	writeFile(t, path, "root:x:0:0\n")

	ctx, err := Create(loop, path, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { ctx.Close() })

	var s1Fired, s2Fired, s3Fired int32
	var s2 *Subscription
	done := make(chan struct{})
	loop.Invoke(func() {
		_, _ = ctx.AddWatch(OpModify, func(string, any) int {
			atomic.AddInt32(&s1Fired, 1)
			s2.Close()
			return 0
		}, nil)
		s2, _ = ctx.AddWatch(OpModify, func(string, any) int {
			atomic.AddInt32(&s2Fired, 1)
			return 0
		}, nil)
		_, _ = ctx.AddWatch(OpModify, func(string, any) int {
			atomic.AddInt32(&s3Fired, 1)
			return 0
		}, nil)
		close(done)
	})
	<-done

	writeFile(t, path, "root:x:0:0\nuser:x:1:1\n")

	if !waitFor(t, time.Second, func() bool {
		return atomic.LoadInt32(&s1Fired) == 1 && atomic.LoadInt32(&s3Fired) == 1
	}) {
		t.Fatalf("s1 or s3 never fired: s1=%d s3=%d", s1Fired, s3Fired)
	}
	time.Sleep(250 * time.Millisecond)

	if got := atomic.LoadInt32(&s2Fired); got != 0 {
		t.Fatalf("s2 fired %d times, want 0", got)
	}
	if got := atomic.LoadInt32(&s3Fired); got != 1 {
		t.Fatalf("s3 fired %d times, want exactly 1", got)
	}
	if got := subCount(loop, ctx); got != 2 {
		t.Fatalf("expected 2 live subscriptions after drop, got %d", got)
	}
}

// TestNewSubscriptionNotInvokedThisDispatch is spec.md Scenario-adjacent
// tie-breaking property 9: a callback registering a new subscription must
// not see it fire in the same dispatch.
func TestNewSubscriptionNotInvokedThisDispatch(t *testing.T) {
	loop := startLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "passwd")
	writeFile(t, path, "root:x:0:0\n")

	ctx, err := Create(loop, path, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { ctx.Close() })

	var lateFired int32
	done := make(chan struct{})
	loop.Invoke(func() {
		_, _ = ctx.AddWatch(OpModify, func(string, any) int {
			ctx.AddWatch(OpModify, func(string, any) int {
				atomic.AddInt32(&lateFired, 1)
				return 0
			}, nil)
			return 0
		}, nil)
		close(done)
	})
	<-done

	writeFile(t, path, "root:x:0:0\nuser:x:1:1\n")
	time.Sleep(400 * time.Millisecond)

	if got := atomic.LoadInt32(&lateFired); got != 0 {
		t.Fatalf("subscription added mid-dispatch fired in the same round: %d", got)
	}
	if got := subCount(loop, ctx); got != 2 {
		t.Fatalf("expected the late subscription to be registered for next time, got %d", got)
	}

	// A second, independent burst should now reach it.
	writeFile(t, path, "root:x:0:0\nuser:x:1:1\nthird:x:2:2\n")
	if !waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&lateFired) == 1 }) {
		t.Fatalf("late subscription never fired on the following dispatch")
	}
}

// TestCallbackErrorDoesNotAbortDispatch is spec.md Scenario D: S1 returns
// a non-zero status; S2 must still fire once, unaffected.
func TestCallbackErrorDoesNotAbortDispatch(t *testing.T) {
	loop := startLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "group")
	writeFile(t, path, "g:x:0:\n")

	ctx, err := Create(loop, path, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { ctx.Close() })

	var s1, s2 int32
	done := make(chan struct{})
	loop.Invoke(func() {
		ctx.AddWatch(OpModify, func(string, any) int { atomic.AddInt32(&s1, 1); return 1 }, nil)
		ctx.AddWatch(OpModify, func(string, any) int { atomic.AddInt32(&s2, 1); return 0 }, nil)
		close(done)
	})
	<-done

	writeFile(t, path, "g:x:0:\nh:x:1:\n")

	if !waitFor(t, time.Second, func() bool {
		return atomic.LoadInt32(&s1) == 1 && atomic.LoadInt32(&s2) == 1
	}) {
		t.Fatalf("both subscriptions should fire once despite s1's error: s1=%d s2=%d", s1, s2)
	}
}

// TestOverlappingMasksFireInOrder is spec.md round-trip property 6.
func TestOverlappingMasksFireInOrder(t *testing.T) {
	loop := startLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "passwd")
	writeFile(t, path, "root:x:0:0\n")

	ctx, err := Create(loop, path, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { ctx.Close() })

	var order []int
	done := make(chan struct{})
	loop.Invoke(func() {
		ctx.AddWatch(OpModify|OpAttrib, func(string, any) int { order = append(order, 1); return 0 }, nil)
		ctx.AddWatch(OpModify, func(string, any) int { order = append(order, 2); return 0 }, nil)
		close(done)
	})
	<-done

	writeFile(t, path, "root:x:0:0\nuser:x:1:1\n")

	if !waitFor(t, time.Second, func() bool { return len(order) == 2 }) {
		t.Fatalf("expected both overlapping subscriptions to fire, got %v", order)
	}
	if order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected insertion order [1 2], got %v", order)
	}
}

// TestCloseBeforeBurstWindowElapses is spec.md Scenario E: closing the
// WatchCtx while a dispatch is armed but hasn't fired yet must prevent
// every callback from ever running.
func TestCloseBeforeBurstWindowElapses(t *testing.T) {
	loop := startLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "passwd")
	writeFile(t, path, "root:x:0:0\n")

	ctx, err := Create(loop, path, time.Second)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var fired int32
	done := make(chan struct{})
	loop.Invoke(func() {
		ctx.AddWatch(OpModify, func(string, any) int { atomic.AddInt32(&fired, 1); return 0 }, nil)
		ctx.AddWatch(OpModify, func(string, any) int { atomic.AddInt32(&fired, 1); return 0 }, nil)
		ctx.AddWatch(OpModify, func(string, any) int { atomic.AddInt32(&fired, 1); return 0 }, nil)
		close(done)
	})
	<-done

	writeFile(t, path, "root:x:0:0\nuser:x:1:1\n")
	// Give the kernel event a moment to reach the loop and arm the
	// dispatch, then close well before the 1s burst window elapses.
	time.Sleep(100 * time.Millisecond)

	closeDone := make(chan struct{})
	loop.Invoke(func() {
		ctx.Close()
		close(closeDone)
	})
	<-closeDone

	time.Sleep(1200 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Fatalf("callback fired after WatchCtx was closed: %d", got)
	}
}
