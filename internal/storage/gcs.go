package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ashureev/studyforge/internal/domain"
)

// GCSConfig selects a bucket and how to authenticate.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	// EmulatorHost points at a fake-gcs-server style emulator, e.g. http://localhost:4443.
	EmulatorHost string
}

// GCSStore keeps objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client       *storage.Client
	bucket       string
	emulatorHost string
}

// NewGCS creates a bucket-backed store.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("GCS bucket is required")
	}

	var opts []option.ClientOption
	emulator := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
	if emulator != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", emulator)
		opts = append(opts, option.WithoutAuthentication())
	} else {
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	slog.Info("object storage initialized", "backend", "gcs", "bucket", cfg.Bucket, "emulator_host", emulator)
	return &GCSStore{client: client, bucket: cfg.Bucket, emulatorHost: emulator}, nil
}

func (g *GCSStore) object(key string) (*storage.ObjectHandle, string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, "", err
	}
	return g.client.Bucket(g.bucket).Object(k), k, nil
}

// Write uploads data.
func (g *GCSStore) Write(ctx context.Context, key string, data []byte, contentType string) error {
	o, k, err := g.object(key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := o.NewWriter(ctx)
	if contentType == "" {
		contentType = contentTypeForKey(k)
	}
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

// Read downloads an object.
func (g *GCSStore) Read(ctx context.Context, key string) ([]byte, error) {
	o, k, err := g.object(key)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := o.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("object %s: %w", k, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS object %q: %w", k, err)
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			slog.Warn("failed to close GCS reader", "key", k, "error", closeErr)
		}
	}()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object %q: %w", k, err)
	}
	return data, nil
}

// List returns objects under prefix.
func (g *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []ObjectInfo{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		out = append(out, ObjectInfo{Key: attrs.Name, Size: attrs.Size, Updated: attrs.Updated.UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes one object. Missing objects are not an error.
func (g *GCSStore) Delete(ctx context.Context, key string) error {
	o, k, err := g.object(key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := o.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", k, g.bucket, err)
	}
	return nil
}

// DeletePrefix removes every object under prefix.
func (g *GCSStore) DeletePrefix(ctx context.Context, prefix string) error {
	objs, err := g.List(ctx, prefix)
	if err != nil {
		return err
	}
	var firstErr error
	for _, o := range objs {
		if err := g.Delete(ctx, o.Key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SignedURL returns a V4 signed GET URL. In emulator mode it returns the
// emulator's media URL instead.
func (g *GCSStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	_, k, err := g.object(key)
	if err != nil {
		return "", err
	}
	if g.emulatorHost != "" {
		return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media",
			g.emulatorHost, url.PathEscape(g.bucket), url.PathEscape(k)), nil
	}
	u, err := g.client.Bucket(g.bucket).SignedURL(k, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign URL for %q: %w", k, err)
	}
	return u, nil
}

// Close releases the client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}
