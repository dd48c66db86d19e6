// Package config loads the YAML configuration that tells a snotifyd
// process which paths to watch and where to find the account-lookup
// module and the persistent cache.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sssd-go/snotify"
)

// Watch is one watched-path entry from the configuration file.
type Watch struct {
	// Path is the filesystem path to watch (e.g. /etc/passwd).
	Path string `yaml:"path"`
	// Mask lists the event names this watch cares about; see parseMask
	// for the recognized names. An empty list is an error at Load time,
	// matching snotify.ErrEmptyMask rather than deferring to AddWatch.
	MaskNames []string `yaml:"mask"`
	// BurstWindow overrides the top-level default for this watch alone.
	// Zero means "use the top-level default," which is itself passed
	// through to snotify.Create unchanged if also zero — the core, not
	// the loader, owns burst-window normalization.
	BurstWindow time.Duration `yaml:"burstWindow"`

	// Mask is MaskNames resolved to an snotify.Op, populated by Load.
	Mask snotify.Op `yaml:"-"`
}

// Config is the top-level configuration document.
type Config struct {
	// BurstWindow is the default burst window applied to any Watch that
	// doesn't set its own.
	BurstWindow time.Duration `yaml:"burstWindow"`
	// Watches lists the paths to watch.
	Watches []Watch `yaml:"watches"`
	// NSSModule is the filesystem path to the Go plugin implementing
	// files.Backend.
	NSSModule string `yaml:"nssModule"`
	// Cache is the filesystem path to the sqlite database backing the
	// persistent account cache.
	Cache string `yaml:"cache"`
}

var maskNames = map[string]snotify.Op{
	"access":        snotify.OpAccess,
	"attrib":        snotify.OpAttrib,
	"write":         snotify.OpModify,
	"modify":        snotify.OpModify,
	"close-write":   snotify.OpCloseWrite,
	"close-nowrite": snotify.OpCloseNoWr,
	"create":        snotify.OpCreate,
	"remove":        snotify.OpDelete,
	"delete":        snotify.OpDelete,
	"delete-self":   snotify.OpDeleteSelf,
	"move-self":     snotify.OpMoveSelf,
	"rename":        snotify.OpMovedTo,
	"moved-from":    snotify.OpMovedFrom,
	"moved-to":      snotify.OpMovedTo,
	"open":          snotify.OpOpen,
}

// Load reads and parses the YAML configuration file at path, resolving
// each watch's mask names to an snotify.Op. It rejects a watch with an
// empty mask list, or with any unrecognized mask name, up front, rather
// than deferring the failure to the first AddWatch call.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read configuration file %q", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration")
	}

	for i := range cfg.Watches {
		w := &cfg.Watches[i]
		if w.Path == "" {
			return nil, errors.Errorf("watch entry %d: path is required", i)
		}
		mask, err := parseMask(w.MaskNames)
		if err != nil {
			return nil, errors.Wrapf(err, "watch entry %d (%s)", i, w.Path)
		}
		w.Mask = mask
	}

	return &cfg, nil
}

// parseMask resolves a list of mask names to a combined snotify.Op. Any
// unrecognized name is an error, and so is an empty list: there is no
// sense in configuring a watch that can never fire.
func parseMask(names []string) (snotify.Op, error) {
	var mask snotify.Op
	for _, name := range names {
		op, ok := maskNames[name]
		if !ok {
			return 0, errors.Errorf("unrecognized mask name %q", name)
		}
		mask |= op
	}
	if mask == 0 {
		return 0, errors.New("mask must name at least one recognized event")
	}
	return mask, nil
}
