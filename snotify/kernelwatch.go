//go:build linux

package snotify

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// kernelWatch owns one inotify instance and the single watch descriptor
// installed on it for one path. This is component 2 of spec.md §2, "Kernel
// watch handle" — unlike fsnotify's Watcher, which multiplexes many paths
// over one inotify fd, a kernelWatch is scoped to exactly one WatchCtx and
// therefore one path, matching the original sssd design where each
// snotify_ctx opens its own inotify_fd.
type kernelWatch struct {
	fd    int
	wd    int32
	path  string
	flags uint32 // union of every mask passed to addMask; bits are never removed
}

// openKernelWatch opens a new non-blocking, close-on-exec inotify instance
// for path. It installs no watch (wd stays -1); the watch is installed by
// the first addMask call, and extended by later ones, as subscriptions are
// registered.
func openKernelWatch(path string) (*kernelWatch, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("snotify: inotify_init1: %w", err)
	}
	return &kernelWatch{fd: fd, wd: -1, path: path}, nil
}

// addMask extends the set of events the kernel watch reports, re-installing
// the watch with the union of the new mask and whatever was already
// installed. inotify_add_watch on an existing watch descriptor replaces its
// mask rather than adding to it, so the union must be computed here.
func (k *kernelWatch) addMask(mask uint32) error {
	union := k.flags | mask
	wd, err := unix.InotifyAddWatch(k.fd, k.path, union)
	if err != nil {
		return fmt.Errorf("snotify: inotify_add_watch(%q): %w", k.path, err)
	}
	k.wd = int32(wd)
	k.flags = union
	return nil
}

// rawEvent is one decoded inotify_event record.
type rawEvent struct {
	mask    uint32
	ignored bool
}

// readOne reads exactly one event record from the inotify fd, per
// spec.md §4.2's read discipline: enough to progress, leaving any further
// queued events to retrigger readiness. It returns ok=false (with err=nil)
// on EAGAIN, which happens if the loop woke us spuriously or a previous
// wake already drained the only pending event.
func (k *kernelWatch) readOne() (ev rawEvent, ok bool, err error) {
	var buf [unix.SizeofInotifyEvent + unix.PathMax + 1]byte
	n, rerr := unix.Read(k.fd, buf[:unix.SizeofInotifyEvent])
	if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
		return rawEvent{}, false, nil
	}
	if rerr != nil {
		return rawEvent{}, false, fmt.Errorf("snotify: read(inotify): %w", rerr)
	}
	if n < unix.SizeofInotifyEvent {
		return rawEvent{}, false, fmt.Errorf("snotify: short inotify read (%d bytes)", n)
	}

	raw := decodeInotifyEvent(buf[:n])

	// Drain (and discard) the trailing name field, if any; the core
	// never needs it since a kernelWatch only ever watches one path
	// (spec.md's explicit non-goal of directory/recursive watching).
	if raw.len > 0 {
		name := make([]byte, raw.len)
		unix.Read(k.fd, name)
	}

	return rawEvent{mask: raw.mask, ignored: raw.mask&uint32(opIgnored) != 0}, true, nil
}

// close closes the underlying inotify instance. It does not attempt to
// explicitly remove the watch descriptor first; closing the fd is
// sufficient and cheaper, matching backend_inotify.go's Close behavior of
// relying on fd closure to drop kernel-side watch state.
func (k *kernelWatch) close() error {
	return unix.Close(k.fd)
}
