package notifier

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknown is returned for a name nothing registered.
var ErrUnknown = errors.New("notifier: unknown provider")

// Factory creates a Notifier from string settings (URLs, timeouts).
// Returning ErrNotConfigured skips the notifier without failing startup.
type Factory func(settings map[string]string) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a notifier factory available by name. Adapters call it
// from init.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates a Notifier by name using the registered factory.
func New(name string, settings map[string]string) (Notifier, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknown, name)
	}
	return factory(settings)
}

// Configured builds every named notifier whose settings are complete, in
// name order. Notifiers reporting ErrNotConfigured are left out; any other
// error fails the whole set.
func Configured(settings map[string]map[string]string) ([]Notifier, error) {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	slices.Sort(names)

	var out []Notifier
	for _, name := range names {
		n, err := New(name, settings[name])
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("notifier %s: %w", name, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Available returns the registered notifier names, sorted.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
