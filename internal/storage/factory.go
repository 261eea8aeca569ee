package storage

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type DurableFactory func(dsn string) (Durable, error)

var durableFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]DurableFactory
}{
	factories: map[string]DurableFactory{},
}

func RegisterDurableFactory(scheme string, factory DurableFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	durableFactoryRegistry.mu.Lock()
	defer durableFactoryRegistry.mu.Unlock()
	durableFactoryRegistry.factories[scheme] = factory
}

func lookupDurableFactory(scheme string) (DurableFactory, bool) {
	scheme = normalizeScheme(scheme)
	durableFactoryRegistry.mu.RLock()
	defer durableFactoryRegistry.mu.RUnlock()
	factory, ok := durableFactoryRegistry.factories[scheme]
	return factory, ok
}

// BuildDurableFromDSN picks a backend by DSN scheme. A bare path is a
// record directory.
func BuildDurableFromDSN(dsn string) (Durable, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupDurableFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file", "dir":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewDirDurable(path), nil
	case "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		backend, err := NewSQLiteDurable(path)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "memory", "mem", "inmem":
		return NewMemoryDurable(), nil
	case "postgres", "postgresql":
		backend, err := NewPostgresDurable(dsn)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported content backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Host + parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
