// Package storeregistry provides build-time registration of storage
// backends for the daemon and CLI binaries.
//
// In Go, "plugins" are linked at build time: a backend registers itself in
// init(), and is enabled in a binary by importing the backend package
// (often as a blank import).
package storeregistry

import (
	"flag"
	"fmt"
	"sort"
	"sync"

	"icn.coop/mesh/storage"
)

// Usage restricts which programs should accept a given backend.
type Usage uint8

const (
	// UsageCLI indicates the backend should be available in CLI programs.
	UsageCLI Usage = 1 << iota
	// UsageDaemon indicates the backend should be available in daemons.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }

// Backend is a build-time plugin that can open a storage.Store.
type Backend struct {
	Name        string
	Description string
	Usage       Usage

	// RegisterFlags adds backend-specific flags to fs.
	// It must be safe to call exactly once per process.
	RegisterFlags func(fs *flag.FlagSet)

	// Open constructs the Store using values parsed into flags registered
	// by RegisterFlags. It returns an optional close function.
	Open func() (storage.Store, func() error, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("storeregistry: backend name is required")
	}
	if b.RegisterFlags == nil {
		return fmt.Errorf("storeregistry: backend %q missing RegisterFlags", b.Name)
	}
	if b.Open == nil {
		return fmt.Errorf("storeregistry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("storeregistry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("storeregistry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// RegisterFlags registers flags for all backends matching usage.
//
// This enables single-pass flag parsing (Go's flag package rejects unknown
// flags).
func RegisterFlags(fs *flag.FlagSet, usage Usage) {
	for _, b := range List(usage) {
		b.RegisterFlags(fs)
	}
}

// Open opens the named backend if it exists and matches usage.
func Open(name string, usage Usage) (storage.Store, func() error, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("unknown backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return nil, nil, fmt.Errorf("backend %q not supported in this binary", name)
	}
	return b.Open()
}
