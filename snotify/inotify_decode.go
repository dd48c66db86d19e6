//go:build linux

package snotify

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

type decodedEvent struct {
	wd   int32
	mask uint32
	len  uint32
}

// decodeInotifyEvent reinterprets the fixed-size header of a raw
// inotify_event, following the same unsafe-pointer cast backend_inotify.go
// uses to avoid a binary.Read allocation on the hot path.
func decodeInotifyEvent(buf []byte) decodedEvent {
	raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[0]))
	return decodedEvent{
		wd:   raw.Wd,
		mask: uint32(raw.Mask),
		len:  uint32(raw.Len),
	}
}
