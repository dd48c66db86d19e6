//go:build linux

// Package snotify is the filesystem change notification core: it watches
// a single path, coalesces bursts of low-level kernel events into a
// single logical dispatch per quiescent window, fans that dispatch out to
// an ordered list of subscriber callbacks, and transparently rebuilds the
// underlying kernel watch when the watched inode is replaced out from
// under it (a rename-into-place save, as produced by most editors and by
// tools that rewrite /etc/passwd and /etc/group).
//
// The package is grounded on sssd's util/inotify.c: a WatchCtx is the Go
// shape of struct snotify_ctx, a Subscription is struct snotify_cb_ctx,
// and Create/AddWatch map to snotify_create/snotify_add_watch. Everything
// here runs on a single goroutine — the one driving the eventloop.Loop
// passed to Create — and holds no internal locks; see the package docs
// on Loop for why that's safe.
package snotify

import (
	"fmt"
	"log"
	"time"

	"github.com/sssd-go/snotify/eventloop"
	"github.com/sssd-go/snotify/internal/inotifydebug"
)

// DefaultBurstWindow is substituted for any non-positive burst window
// passed to Create, matching spec.md §3's normalization rule (and sssd's
// DFL_BURST_RATE).
const DefaultBurstWindow = 1 * time.Second

// WatchCtx watches one filesystem path and multiplexes coalesced change
// notifications to its subscriptions. Create it with Create; release it
// with Close. A WatchCtx must only be used from the goroutine running its
// eventloop.Loop.
type WatchCtx struct {
	loop        *eventloop.Loop
	path        string
	burstWindow time.Duration
	logger      *log.Logger

	kw       *kernelWatch
	fdHandle eventloop.Handle

	pendingMask   Op
	dispatchArmed bool
	timerHandle   eventloop.Handle

	subscriptions []*Subscription
	closed        bool
}

// Create opens a kernel watch on path and registers it with loop. A
// non-positive burstWindow is normalized to DefaultBurstWindow. Create
// only opens the inotify instance; no kernel watch is installed, and no
// events are reported, until the first subscription is added with
// AddWatch — see spec.md §9's second open question, which this
// implementation resolves by never installing a zero mask. A path that
// does not exist is therefore reported by AddWatch, not by Create.
func Create(loop *eventloop.Loop, path string, burstWindow time.Duration) (*WatchCtx, error) {
	if burstWindow <= 0 {
		burstWindow = DefaultBurstWindow
	}

	kw, err := openKernelWatch(path)
	if err != nil {
		return nil, err
	}

	ctx := &WatchCtx{
		loop:        loop,
		path:        path,
		burstWindow: burstWindow,
		logger:      log.Default(),
		kw:          kw,
	}

	fdHandle, err := loop.WatchFDReadable(kw.fd, ctx.onReadable)
	if err != nil {
		kw.close()
		return nil, fmt.Errorf("snotify: register watch for %q: %w", path, err)
	}
	ctx.fdHandle = fdHandle

	return ctx, nil
}

// Path returns the watched path.
func (c *WatchCtx) Path() string { return c.path }

// AddWatch installs a new Subscription for mask on c. mask must be
// non-zero. Callbacks fire in the order subscriptions were added
// (spec.md §4.3).
func (c *WatchCtx) AddWatch(mask Op, cb Callback, opaque any) (*Subscription, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if mask == 0 {
		return nil, ErrEmptyMask
	}

	if err := c.kw.addMask(uint32(mask)); err != nil {
		return nil, err
	}

	sub := &Subscription{mask: mask, cb: cb, opaque: opaque, wd: c.kw.wd, parent: c}
	c.subscriptions = append(c.subscriptions, sub)
	return sub, nil
}

// forget removes sub from c's subscription list. It is called by
// Subscription.Close and is a no-op if sub is not present (e.g. because c
// was already closed, which clears the whole list up front).
func (c *WatchCtx) forget(sub *Subscription) {
	for i, s := range c.subscriptions {
		if s == sub {
			c.subscriptions = append(c.subscriptions[:i], c.subscriptions[i+1:]...)
			return
		}
	}
}

// onReadable is the event-loop callback registered against the kernel
// watch's fd. It implements spec.md §4.2's read discipline (exactly one
// event per wake) and §4.5's reopen trigger.
func (c *WatchCtx) onReadable() {
	ev, ok, err := c.kw.readOne()
	if err != nil {
		c.logger.Printf("snotify: read error on %q: %v", c.path, err)
		return
	}
	if !ok {
		return
	}
	inotifydebug.Log(c.path, ev.mask)

	if ev.ignored {
		if rerr := c.reopen(); rerr != nil {
			c.logger.Printf("snotify: reopen failed for %q: %v", c.path, rerr)
			return
		}
	}

	c.accumulate(Op(ev.mask))
}

// accumulate ORs flags into the pending mask and arms a dispatch if one
// isn't already in flight (spec.md §4.4).
func (c *WatchCtx) accumulate(flags Op) {
	c.pendingMask |= flags

	if c.dispatchArmed {
		return
	}
	c.dispatchArmed = true
	c.timerHandle = c.loop.ScheduleAfter(c.burstWindow, c.dispatch)
}

// dispatch is the deferred callback armed by accumulate. It snapshots and
// clears the pending state, then walks a length-frozen view of the
// subscription list so that subscriptions added mid-dispatch are not
// invoked this round, and subscriptions dropped mid-dispatch (by an
// earlier callback) are skipped once reached (spec.md §4.4 tie-breaking).
func (c *WatchCtx) dispatch() {
	flags := c.pendingMask
	c.pendingMask = 0
	c.dispatchArmed = false

	// A plain slice-header copy would still alias c.subscriptions'
	// backing array: forget (called by a callback closing a sibling
	// mid-dispatch) shifts later elements down in place, which could
	// shadow a not-yet-visited entry onto an index this loop already
	// passed, or duplicate one onto an index it hasn't reached yet. Copy
	// the backing array itself so forget can't perturb this dispatch.
	snapshot := make([]*Subscription, len(c.subscriptions))
	copy(snapshot, c.subscriptions)
	for i := 0; i < len(snapshot); i++ {
		sub := snapshot[i]
		if sub.closed {
			continue
		}
		if !sub.mask.Intersects(flags) {
			continue
		}
		if status := sub.cb(c.path, sub.opaque); status != 0 {
			c.logger.Printf("snotify: callback for %q returned status %d", c.path, status)
		}
	}
}

// reopen rebuilds the kernel watch on c in place: the WatchCtx's identity
// (and every live Subscription's identity) is unchanged, only the inotify
// fd and watch descriptor are replaced. This is option (a) from spec.md
// §9's "transparent identity across reopen" note — preserve the
// Subscription objects, rebuild only the kernel descriptors — which is
// simpler than allocating a new WatchCtx and migrating subscriptions onto
// it, and satisfies the same invariant (spec.md §3, invariant 5).
func (c *WatchCtx) reopen() error {
	if c.fdHandle != nil {
		c.fdHandle.Cancel()
	}
	c.kw.close()

	newKW, err := openKernelWatch(c.path)
	if err != nil {
		c.closed = true
		return fmt.Errorf("%w: %v", ErrReopenFailed, err)
	}

	for _, sub := range c.subscriptions {
		if sub.closed {
			continue
		}
		if err := newKW.addMask(uint32(sub.mask)); err != nil {
			newKW.close()
			c.closed = true
			return fmt.Errorf("%w: reinstalling subscription: %v", ErrReopenFailed, err)
		}
		sub.wd = newKW.wd
	}

	fdHandle, err := c.loop.WatchFDReadable(newKW.fd, c.onReadable)
	if err != nil {
		newKW.close()
		c.closed = true
		return fmt.Errorf("%w: re-registering watch: %v", ErrReopenFailed, err)
	}

	c.kw = newKW
	c.fdHandle = fdHandle
	return nil
}

// Close tears c down: it cancels any armed dispatch, deregisters the
// kernel fd from the event loop, closes the fd, and cascades the close to
// every still-attached Subscription so none of their callbacks can fire
// again (spec.md §3, invariant 1; spec.md §4.6 destructor contract).
// Close is idempotent.
func (c *WatchCtx) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.dispatchArmed && c.timerHandle != nil {
		c.timerHandle.Cancel()
		c.dispatchArmed = false
	}
	if c.fdHandle != nil {
		c.fdHandle.Cancel()
	}

	for _, sub := range c.subscriptions {
		sub.closed = true
		sub.parent = nil
	}
	c.subscriptions = nil

	return c.kw.close()
}
