// Package objcache keeps ranked moments next to their source video in an
// object store.
package objcache

import (
	"bytes"
	"context"
	"io"

	"github.com/forPelevin/clipper/internal/ports"
)

const suffix = ".moments.json"

type Cache struct {
	store ports.ObjectStore
}

func New(store ports.ObjectStore) *Cache { return &Cache{store: store} }

func Key(sourceKey string) string { return sourceKey + suffix }

func (c *Cache) Get(ctx context.Context, sourceKey string) ([]byte, error) {
	rc, err := c.store.Get(ctx, Key(sourceKey))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (c *Cache) Put(ctx context.Context, sourceKey string, b []byte) error {
	return c.store.Put(ctx, Key(sourceKey), bytes.NewReader(b), int64(len(b)), "application/json")
}
