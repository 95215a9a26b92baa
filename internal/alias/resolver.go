// Package alias maps participant addresses to human readable labels.
package alias

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"vote-escrow/internal/address"

	"gopkg.in/yaml.v3"
)

// Resolver reads labels from a YAML file of the form
//
//	aliases:
//	  00112233445566778899AABBCCDDEEFF00112233: alice
//
// and caches them, re-reading the file when its modification time changes.
type Resolver struct {
	path      string
	mu        sync.RWMutex
	cache     map[address.Address]string
	modTime   time.Time
	lastCheck time.Time
	ttl       time.Duration
	logger    *slog.Logger
}

type aliasFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// NewResolver returns nil when path is empty; a nil Resolver resolves
// nothing.
func NewResolver(path string, logger *slog.Logger) *Resolver {
	if path == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		path:   path,
		cache:  map[address.Address]string{},
		ttl:    5 * time.Second,
		logger: logger,
	}
}

// Resolve returns the label for a, or "" if there is none.
func (r *Resolver) Resolve(a address.Address) string {
	if r == nil || a == "" {
		return ""
	}

	r.mu.RLock()
	stale := time.Since(r.lastCheck) > r.ttl
	r.mu.RUnlock()
	if stale {
		r.refresh()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[a]
}

// Label returns "label (short address)" when a label exists, otherwise the
// full address.
func (r *Resolver) Label(a address.Address) string {
	if a == "" {
		return "-"
	}
	if name := r.Resolve(a); name != "" {
		return fmt.Sprintf("%s (%s)", name, a.Short())
	}
	return a.String()
}

func (r *Resolver) refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check under lock
	if time.Since(r.lastCheck) <= r.ttl {
		return
	}
	r.lastCheck = time.Now()

	info, err := os.Stat(r.path)
	if err != nil {
		r.logger.Warn("alias file unavailable", "component", "alias", "path", r.path, "error", err.Error())
		return
	}
	if info.ModTime().Equal(r.modTime) && len(r.cache) > 0 {
		return
	}
	mapping, err := load(r.path)
	if err != nil {
		r.logger.Warn("alias file rejected", "component", "alias", "path", r.path, "error", err.Error())
		return
	}
	r.cache = mapping
	r.modTime = info.ModTime()
	r.logger.Debug("aliases loaded", "component", "alias", "count", len(mapping))
}

func load(path string) (map[address.Address]string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f aliasFile
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	mapping := make(map[address.Address]string, len(f.Aliases))
	for raw, name := range f.Aliases {
		a, err := address.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("alias %q: %w", name, err)
		}
		mapping[a] = name
	}
	return mapping, nil
}
