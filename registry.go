package mailstore

import (
	"sort"
	"sync"

	"github.com/infodancer/mailstore/errors"
)

// Driver creates stores for one storage format.
type Driver struct {
	// New opens a store from configuration.
	New func(config Config) (Store, error)

	// Autodetect reports whether the location looks like this driver's
	// on-disk layout. Optional; drivers without autodetection are only
	// selected explicitly.
	Autodetect func(location string) bool
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Driver)
)

// Register adds a storage driver to the registry.
// It panics if called with an empty name or a nil New function,
// or if the name is already registered.
func Register(name string, driver Driver) {
	if name == "" {
		panic("mailstore: Register called with empty name")
	}
	if driver.New == nil {
		panic("mailstore: Register called with nil driver")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic("mailstore: Register called twice for " + name)
	}
	registry[name] = driver
}

// Open creates a Store using the registered driver named by the config.
// When the config names no driver, the location is probed with each
// driver's autodetection in registration-name order and the first match
// wins.
func Open(config Config) (Store, error) {
	if config.Driver == "" {
		name, ok := Autodetect(config.Location)
		if !ok {
			return nil, errors.ErrStoreNotRegistered
		}
		config.Driver = name
	}

	registryMu.RLock()
	driver, ok := registry[config.Driver]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.ErrStoreNotRegistered
	}
	return driver.New(config)
}

// Autodetect probes the location with every registered driver and
// returns the name of the first one claiming it.
func Autodetect(location string) (string, bool) {
	for _, name := range RegisteredDrivers() {
		registryMu.RLock()
		driver := registry[name]
		registryMu.RUnlock()

		if driver.Autodetect != nil && driver.Autodetect(location) {
			return name, true
		}
	}
	return "", false
}

// RegisteredDrivers returns a sorted list of registered driver names.
func RegisteredDrivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
