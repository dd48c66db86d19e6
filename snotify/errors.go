package snotify

import "errors"

var (
	// ErrEmptyMask is returned by AddWatch when mask is zero. The
	// original sssd inotify.c passes 0 as a mask at one call site, which
	// on some kernels behaves as "no events"; this implementation
	// resolves spec.md §9's open question by rejecting it explicitly.
	ErrEmptyMask = errors.New("snotify: mask must not be empty")

	// ErrClosed is returned by AddWatch on a WatchCtx that has been
	// closed.
	ErrClosed = errors.New("snotify: context closed")

	// ErrReopenFailed wraps the error that a WatchCtx logs when reopen
	// recovery could not rebuild the kernel watch; it is not returned to
	// the WatchCtx's owner. Per spec.md §7 the
	// old context is moribund regardless; subscribers detect this only
	// by their callbacks no longer firing, as spec.md §9 notes is an
	// accepted gap.
	ErrReopenFailed = errors.New("snotify: reopen recovery failed")
)
