//go:build linux

// Package files is the account-lookup backend dispatcher: the external
// collaborator spec.md §1/§6 describes as out of scope for the
// notification core itself. It owns the snotify.WatchCtx/Subscription
// pairs for each configured path, re-enumerates the account database
// through a loaded Backend on every coalesced dispatch, and persists the
// result into files/cache inside a single transaction per refresh.
package files

import (
	"log"
	"plugin"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/sssd-go/snotify/files/cache"
	"github.com/sssd-go/snotify/internal/caps"
)

// Backend is the loaded account-lookup module. Its shape mirrors the
// setpwent/getpwent/endpwent and setgrent/getgrent/endgrent triad that
// files_ops.c calls through a dlopen'd NSS module; Go's plugin package
// is the native analogue of that dlopen, so a Backend is obtained by
// loading a symbol out of a plugin rather than by linking a C ABI.
type Backend interface {
	// Users returns every passwd entry currently visible to the
	// backend. It is called once per coalesced dispatch on a watch
	// covering a passwd-shaped path.
	Users() ([]cache.PasswdEntry, error)
	// Groups returns every group entry currently visible to the
	// backend, analogous to Users.
	Groups() ([]cache.GroupEntry, error)
}

// backendSymbol is the exported plugin symbol a module must provide: a
// value implementing Backend.
const backendSymbol = "Backend"

// LoadBackend opens the Go plugin at path and resolves its exported
// Backend symbol. The plugin is expected to declare:
//
//	var Backend files.Backend = myBackendImpl{}
func LoadBackend(path string) (Backend, error) {
	warnIfMissingReadSearch()

	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open nss module %q", path)
	}

	sym, err := p.Lookup(backendSymbol)
	if err != nil {
		return nil, errors.Wrapf(err, "nss module %q: missing %s symbol", path, backendSymbol)
	}

	// Lookup of a plugin variable yields a pointer to it, so a module
	// declaring `var Backend files.Backend` is resolved through *Backend.
	if ptr, ok := sym.(*Backend); ok && *ptr != nil {
		return *ptr, nil
	}
	backend, ok := sym.(Backend)
	if !ok {
		return nil, errors.Errorf("nss module %q: %s symbol does not implement files.Backend", path, backendSymbol)
	}
	return backend, nil
}

// warnIfMissingReadSearch logs a warning if the process lacks
// CAP_DAC_READ_SEARCH, which most real account-lookup backends need to
// read arbitrary account files regardless of their owning UID/GID. It
// never fails LoadBackend: a backend reading only world-readable files
// works fine without the capability.
func warnIfMissingReadSearch() {
	snap, err := caps.Current()
	if err != nil {
		return
	}
	if !snap.Has(unix.CAP_DAC_READ_SEARCH, caps.Effective) {
		log.Printf("files: CAP_DAC_READ_SEARCH not effective; account enumeration may be incomplete")
	}
}
