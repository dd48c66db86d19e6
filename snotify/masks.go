//go:build linux

package snotify

import "golang.org/x/sys/unix"

// Op is a bitset of event flags. It is bitwise-OR compatible with the
// kernel's inotify constants; snotify neither interprets nor re-encodes
// the bits, it only unions and intersects them (spec.md §6).
type Op uint32

// The subset of inotify flags a subscriber is expected to combine when
// calling AddWatch. OpModify reports writes to the watched file; a
// rename-into-place edit of a flat file shows up on the replaced file as
// OpAttrib and OpDeleteSelf, followed by the kernel's ignored event.
// OpCreate, OpDelete, OpMovedFrom and OpMovedTo describe entries of a
// watched directory. Open/Access/CloseWrite are exposed for callers that
// want finer-grained interest.
const (
	OpAccess     Op = unix.IN_ACCESS
	OpAttrib     Op = unix.IN_ATTRIB
	OpCloseWrite Op = unix.IN_CLOSE_WRITE
	OpCloseNoWr  Op = unix.IN_CLOSE_NOWRITE
	OpCreate     Op = unix.IN_CREATE
	OpDelete     Op = unix.IN_DELETE
	OpDeleteSelf Op = unix.IN_DELETE_SELF
	OpModify     Op = unix.IN_MODIFY
	OpMoveSelf   Op = unix.IN_MOVE_SELF
	OpMovedFrom  Op = unix.IN_MOVED_FROM
	OpMovedTo    Op = unix.IN_MOVED_TO
	OpOpen       Op = unix.IN_OPEN

	// opIgnored is delivered by the kernel when a watch becomes
	// unreachable (spec.md §4.5's reopen trigger). It is never a valid
	// argument to AddWatch.
	opIgnored Op = unix.IN_IGNORED
)

// Has reports whether every bit set in want is also set in op.
func (op Op) Has(want Op) bool { return op&want == want }

// Intersects reports whether op and other share any bit.
func (op Op) Intersects(other Op) bool { return op&other != 0 }
