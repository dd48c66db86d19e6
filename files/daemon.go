//go:build linux

package files

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/sssd-go/snotify"
	"github.com/sssd-go/snotify/config"
	"github.com/sssd-go/snotify/eventloop"
	"github.com/sssd-go/snotify/files/cache"
)

// watchKind distinguishes which re-enumeration a watch's callback
// performs; it is inferred from the configured path's base name so the
// configuration file doesn't need an extra field for something the
// path already implies in the canonical deployment (/etc/passwd,
// /etc/group).
type watchKind int

const (
	kindUsers watchKind = iota
	kindGroups
)

// Daemon owns one snotify.WatchCtx per configured Watch and the
// Backend/Store pair their callbacks refresh into.
type Daemon struct {
	loop         *eventloop.Loop
	backend      Backend
	store        *cache.Store
	logger       *log.Logger
	defaultBurst time.Duration

	contexts map[string]*snotify.WatchCtx
}

// NewDaemon builds a Daemon from cfg: for every configured Watch it
// calls snotify.Create and AddWatch with a callback that re-enumerates
// the account database through backend and persists it into store
// (spec.md §6's usage pattern, SPEC_FULL.md §4.8). A Watch's own
// BurstWindow, if set, overrides cfg's top-level default; a still-zero
// result is passed through to snotify.Create unchanged, leaving the
// core as the single place burst-window normalization happens.
func NewDaemon(loop *eventloop.Loop, cfg *config.Config, backend Backend, store *cache.Store) (*Daemon, error) {
	d := &Daemon{
		loop:         loop,
		backend:      backend,
		store:        store,
		logger:       log.Default(),
		defaultBurst: cfg.BurstWindow,
		contexts:     make(map[string]*snotify.WatchCtx),
	}

	for _, w := range cfg.Watches {
		if err := d.addWatch(w); err != nil {
			d.Close()
			return nil, errors.Wrapf(err, "watch %q", w.Path)
		}
	}

	return d, nil
}

func classify(path string) watchKind {
	if base := basename(path); base == "group" {
		return kindGroups
	}
	return kindUsers
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func (d *Daemon) addWatch(w config.Watch) error {
	burst := w.BurstWindow
	if burst <= 0 {
		burst = d.defaultBurst
	}
	ctx, err := snotify.Create(d.loop, w.Path, burst)
	if err != nil {
		return err
	}

	kind := classify(w.Path)
	_, err = ctx.AddWatch(w.Mask, func(path string, _ any) int {
		if refreshErr := d.refresh(kind); refreshErr != nil {
			d.logger.Printf("files: refresh for %q failed: %v", path, refreshErr)
			return 1
		}
		return 0
	}, nil)
	if err != nil {
		ctx.Close()
		return err
	}

	d.contexts[w.Path] = ctx
	return nil
}

// refresh re-enumerates the account database for kind and persists it
// into the cache in a single transaction. Per spec.md §7, a failure
// here is only ever logged — the core itself only records and never
// propagates a subscriber's returned status.
func (d *Daemon) refresh(kind watchKind) error {
	ctx := context.Background()
	switch kind {
	case kindUsers:
		users, err := d.backend.Users()
		if err != nil {
			return errors.Wrap(err, "enumerate users")
		}
		return d.store.ReplaceUsers(ctx, users)
	case kindGroups:
		groups, err := d.backend.Groups()
		if err != nil {
			return errors.Wrap(err, "enumerate groups")
		}
		return d.store.ReplaceGroups(ctx, groups)
	default:
		return errors.Errorf("unknown watch kind %d", kind)
	}
}

// Reload adds watches for paths newly present in cfg and removes
// watches for paths no longer present, leaving unaffected watches
// untouched. It implements the SIGHUP reload behavior from SPEC_FULL.md
// §6, layered on top of the core's public surface rather than inside
// it.
func (d *Daemon) Reload(cfg *config.Config) error {
	wanted := make(map[string]config.Watch, len(cfg.Watches))
	for _, w := range cfg.Watches {
		wanted[w.Path] = w
	}

	for path, ctx := range d.contexts {
		if _, ok := wanted[path]; !ok {
			ctx.Close()
			delete(d.contexts, path)
		}
	}

	for path, w := range wanted {
		if _, ok := d.contexts[path]; ok {
			continue
		}
		if err := d.addWatch(w); err != nil {
			return errors.Wrapf(err, "watch %q", path)
		}
	}

	return nil
}

// Close tears down every watch owned by the daemon.
func (d *Daemon) Close() error {
	for path, ctx := range d.contexts {
		ctx.Close()
		delete(d.contexts, path)
	}
	return nil
}
