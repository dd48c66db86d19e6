package snotify

// Callback is invoked once per coalesced dispatch for every Subscription
// whose mask intersects the accumulated event flags. Its return value is
// observed (and logged if non-zero) but never aborts the dispatch: every
// matching subscription is called exactly once regardless of what prior
// callbacks in the same dispatch returned (spec.md §4.3).
type Callback func(path string, opaque any) int

// Subscription is one subscriber's interest in one watched path, created
// by WatchCtx.AddWatch. Its lifetime is bounded by its parent WatchCtx:
// dropping the parent drops every live Subscription first (spec.md §3,
// invariant 1).
type Subscription struct {
	mask   Op
	cb     Callback
	opaque any

	wd     int32 // watch descriptor this subscription was installed against; echoed for diagnostics, reset on reopen
	parent *WatchCtx
	closed bool
}

// Mask returns the event flags this subscription was registered with.
func (s *Subscription) Mask() Op { return s.mask }

// Close removes the subscription from its parent WatchCtx. After Close
// returns, the callback is guaranteed never to fire again (spec.md §3,
// invariant 2) — including for a dispatch already in flight that has not
// yet reached this subscription (spec.md §4.4 tie-breaking, Scenario C).
// Close is idempotent.
func (s *Subscription) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.parent != nil {
		s.parent.forget(s)
	}
	return nil
}
