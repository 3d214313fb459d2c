package tokenizer

import (
	"fmt"
	"sort"
	"sync"

	"bpetok/internal/pkg/bpetok/errs"
)

type Factory func(cfg Config) (Tokenizer, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("tokenizer: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("tokenizer: Register called twice for " + name)
	}
	registry[name] = factory
}

func New(name string, cfg Config) (Tokenizer, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", errs.ErrUnknownFamily, name, ListFamilies())
	}
	return factory(cfg)
}

// ListFamilies returns the registered names in sorted order.
func ListFamilies() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}
