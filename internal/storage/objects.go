// Package storage persists generated notebook content.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrUnsupported is returned by backends that cannot perform an operation.
var ErrUnsupported = errors.New("operation not supported by storage backend")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	Updated time.Time
}

// ObjectStore is a flat key/value blob store with "/" separated keys.
type ObjectStore interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
	// Read returns domain.ErrNotFound for missing keys.
	Read(ctx context.Context, key string) ([]byte, error)
	// List returns every object under prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	// SignedURL returns a time-limited download URL or ErrUnsupported.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// cleanKey validates a relative object key.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return "", fmt.Errorf("invalid object key %q", key)
		}
	}
	return path.Clean(key), nil
}

func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(key), ".md"):
		return "text/markdown; charset=utf-8"
	case strings.HasSuffix(strings.ToLower(key), ".json"):
		return "application/json"
	default:
		return "text/markdown; charset=utf-8"
	}
}
