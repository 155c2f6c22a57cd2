package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Reloader re-reads a configuration file on demand and notifies registered
// hooks when its contents actually changed. File contents are fingerprinted
// with xxhash so a rewrite of identical bytes is a no-op.
type Reloader struct {
	path string

	mu          sync.Mutex
	fingerprint uint64
	hooks       []func(*Config)
}

// NewReloader creates a reloader for path, priming the fingerprint from the
// file's current contents when it exists.
func NewReloader(path string) *Reloader {
	r := &Reloader{path: path}
	if data, err := os.ReadFile(path); err == nil {
		r.fingerprint = xxhash.Sum64(data)
	}
	return r
}

// OnReload registers a hook invoked with the freshly parsed config after a
// successful reload that changed the file contents.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Reload re-reads the file and dispatches hooks asynchronously when the
// contents changed. Returns whether a change was detected.
func (r *Reloader) Reload() (bool, error) {
	return r.reload(func(fn func(*Config), cfg *Config) { go fn(cfg) })
}

// ReloadSync behaves like Reload but invokes hooks synchronously, for
// deterministic test notification.
func (r *Reloader) ReloadSync() (bool, error) {
	return r.reload(func(fn func(*Config), cfg *Config) { fn(cfg) })
}

func (r *Reloader) reload(dispatch func(func(*Config), *Config)) (bool, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	sum := xxhash.Sum64(data)

	r.mu.Lock()
	if sum == r.fingerprint {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	cfg, err := Load(r.path)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	r.fingerprint = sum
	hooks := make([]func(*Config), len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()

	for _, fn := range hooks {
		dispatch(fn, cfg)
	}
	return true, nil
}
