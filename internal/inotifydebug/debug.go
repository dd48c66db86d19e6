// Package inotifydebug renders inotify event masks into human-readable
// flag names, the way fsnotify's internal debug helper does for its own
// backends. snotify.WatchCtx calls into it when SNOTIFY_DEBUG=1 is set
// in the environment, to log exactly which flags a raw kernel event
// carried before coalescing folds them into the pending mask.
package inotifydebug

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Enabled reports whether SNOTIFY_DEBUG=1 is set. It is read once at
// package init, matching the teacher's env-gated debug switches.
var Enabled = os.Getenv("SNOTIFY_DEBUG") == "1"

var flagNames = []struct {
	name string
	bit  uint32
}{
	{"IN_ACCESS", unix.IN_ACCESS},
	{"IN_ATTRIB", unix.IN_ATTRIB},
	{"IN_CLOSE_WRITE", unix.IN_CLOSE_WRITE},
	{"IN_CLOSE_NOWRITE", unix.IN_CLOSE_NOWRITE},
	{"IN_CREATE", unix.IN_CREATE},
	{"IN_DELETE", unix.IN_DELETE},
	{"IN_DELETE_SELF", unix.IN_DELETE_SELF},
	{"IN_MODIFY", unix.IN_MODIFY},
	{"IN_MOVE_SELF", unix.IN_MOVE_SELF},
	{"IN_MOVED_FROM", unix.IN_MOVED_FROM},
	{"IN_MOVED_TO", unix.IN_MOVED_TO},
	{"IN_OPEN", unix.IN_OPEN},
	{"IN_IGNORED", unix.IN_IGNORED},
	{"IN_Q_OVERFLOW", unix.IN_Q_OVERFLOW},
	{"IN_UNMOUNT", unix.IN_UNMOUNT},
}

// Names returns the "|"-separated list of flag names set in mask.
func Names(mask uint32) string {
	var l []string
	for _, f := range flagNames {
		if mask&f.bit == f.bit {
			l = append(l, f.name)
		}
	}
	return strings.Join(l, "|")
}

// Log writes a timestamped line naming path and the flags in mask to
// stderr, if Enabled is true. It is a no-op otherwise, so callers don't
// need to guard every call site with an Enabled check themselves.
func Log(path string, mask uint32) {
	if !Enabled {
		return
	}
	fmt.Fprintf(os.Stderr, "%s  %-40s  %s\n", time.Now().Format("15:04:05.000000"), Names(mask), path)
}
