package labels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PebbleLabelCache keeps at most one rendition per order on local disk in
// front of another LabelRenderer. Entries older than the TTL are refetched.
type PebbleLabelCache struct {
	db     *pebble.DB
	next   integration.LabelRenderer
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type cachedLabel struct {
	ContentType string    `json:"content_type"`
	Content     []byte    `json:"content"`
	FetchedAt   time.Time `json:"fetched_at"`
	StoredAt    time.Time `json:"stored_at"`
}

// NewPebbleLabelCache opens (or creates) the cache in dir and drops expired entries
func NewPebbleLabelCache(dir string, next integration.LabelRenderer, ttl time.Duration, logger *zap.Logger) (*PebbleLabelCache, error) {
	if next == nil {
		return nil, errors.New("label cache needs a backing renderer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	c := &PebbleLabelCache{db: db, next: next, ttl: ttl, now: time.Now, logger: logger}
	if n, err := c.Purge(); err != nil {
		logger.Warn("failed to purge label cache", zap.Error(err))
	} else if n > 0 {
		logger.Info("purged expired labels", zap.Int("count", n))
	}
	return c, nil
}

// Close closes the underlying database
func (c *PebbleLabelCache) Close() error { return c.db.Close() }

func cacheKey(tenantID uuid.UUID, orderID string) []byte {
	return []byte(tenantID.String() + "/" + orderID)
}

func (c *PebbleLabelCache) expired(entry cachedLabel) bool {
	return c.ttl > 0 && c.now().Sub(entry.StoredAt) > c.ttl
}

// GetCachedLabel serves the local rendition when fresh, otherwise fetches it
// from the backing renderer and stores it
func (c *PebbleLabelCache) GetCachedLabel(ctx context.Context, tenantID uuid.UUID, orderID string) (integration.LabelContent, bool, error) {
	key := cacheKey(tenantID, orderID)
	if entry, ok := c.read(key); ok && !c.expired(entry) {
		return integration.LabelContent{
			OrderID:     orderID,
			Content:     entry.Content,
			ContentType: entry.ContentType,
			FetchedAt:   entry.FetchedAt,
		}, true, nil
	}

	label, found, err := c.next.GetCachedLabel(ctx, tenantID, orderID)
	if err != nil || !found {
		return label, found, err
	}

	raw, err := json.Marshal(cachedLabel{
		ContentType: label.ContentType,
		Content:     label.Content,
		FetchedAt:   label.FetchedAt,
		StoredAt:    c.now(),
	})
	if err == nil {
		err = c.db.Set(key, raw, pebble.NoSync)
	}
	if err != nil {
		c.logger.Warn("failed to cache label", zap.String("order_id", orderID), zap.Error(err))
	}
	return label, true, nil
}

// MarkPrinted delegates to the backing renderer
func (c *PebbleLabelCache) MarkPrinted(ctx context.Context, tenantID uuid.UUID, orderIDs []string) error {
	return c.next.MarkPrinted(ctx, tenantID, orderIDs)
}

// Invalidate drops the local renditions of the given orders
func (c *PebbleLabelCache) Invalidate(tenantID uuid.UUID, orderIDs ...string) error {
	wb := c.db.NewBatch()
	defer wb.Close()
	for _, id := range orderIDs {
		if err := wb.Delete(cacheKey(tenantID, id), nil); err != nil {
			return err
		}
	}
	return wb.Commit(pebble.Sync)
}

// Purge deletes every expired or undecodable entry and returns how many were dropped
func (c *PebbleLabelCache) Purge() (int, error) {
	it, err := c.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	var stale [][]byte
	for it.First(); it.Valid(); it.Next() {
		var entry cachedLabel
		if err := json.Unmarshal(it.Value(), &entry); err != nil || c.expired(entry) {
			stale = append(stale, append([]byte(nil), it.Key()...))
		}
	}
	if err := it.Close(); err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := c.db.NewBatch()
	defer wb.Close()
	for _, k := range stale {
		if err := wb.Delete(k, nil); err != nil {
			return 0, err
		}
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (c *PebbleLabelCache) read(key []byte) (cachedLabel, bool) {
	v, closer, err := c.db.Get(key)
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			c.logger.Warn("label cache read failed", zap.ByteString("key", key), zap.Error(err))
		}
		return cachedLabel{}, false
	}
	defer closer.Close()
	var entry cachedLabel
	if err := json.Unmarshal(v, &entry); err != nil {
		return cachedLabel{}, false
	}
	return entry, true
}

var _ integration.LabelRenderer = (*PebbleLabelCache)(nil)
