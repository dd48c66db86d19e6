//go:build linux

// Package caps reads the calling process's Linux capability sets. The
// files backend dispatcher uses it to warn when CAP_DAC_READ_SEARCH is
// absent from the effective set before loading an NSS-shaped module
// that expects to read arbitrary account files — sssd's files provider
// makes the same assumption about running with sufficient privilege to
// read /etc/passwd and /etc/shadow.
package caps

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Set identifies one of the three capability set types Has can query.
type Set int

const (
	Effective Set = iota
	Permitted
	Inheritable
)

// capsV3 is the capability structure for LINUX_CAPABILITY_VERSION_2/3.
type capsV3 struct {
	header unix.CapUserHeader
	data   [2]unix.CapUserData
}

// Snapshot is a point-in-time read of the calling process's
// capabilities, obtained with Current.
type Snapshot struct {
	v3      capsV3
	version int
}

// Current probes the kernel for the running process's capability
// version and reads its current capability sets.
func Current() (*Snapshot, error) {
	var header unix.CapUserHeader
	if err := unix.Capget(&header, nil); err != nil {
		return nil, errors.New("caps: unable to probe capability version")
	}

	s := &Snapshot{}
	switch header.Version {
	case unix.LINUX_CAPABILITY_VERSION_2:
		s.version = 2
	case unix.LINUX_CAPABILITY_VERSION_3:
		s.version = 3
	default:
		return nil, errors.New("caps: unsupported capability version")
	}
	s.v3.header = header
	s.v3.header.Pid = int32(os.Getpid())

	if err := unix.Capget(&s.v3.header, &s.v3.data[0]); err != nil {
		return nil, err
	}
	return s, nil
}

// Has reports whether capability (an unix.CAP_* constant) is present in
// the given set.
func (s *Snapshot) Has(capability int, set Set) bool {
	i := 0
	bit := capability
	if bit > 31 {
		i = 1
		bit -= 32
	}
	var word uint32
	switch set {
	case Effective:
		word = s.v3.data[i].Effective
	case Permitted:
		word = s.v3.data[i].Permitted
	case Inheritable:
		word = s.v3.data[i].Inheritable
	}
	return word&(1<<uint(bit)) != 0
}
