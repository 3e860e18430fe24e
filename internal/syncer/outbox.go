package syncer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/versekeep/versekeep/internal/domain"
)

// Per-entity cloud pushes. Each tries the remote once with the configured
// timeout; a failure appends the intended operation to the durable outbox
// instead of failing the caller's local write.

// PushItem pushes a single saved item to the remote, best-effort.
func (c *Coordinator) PushItem(ctx context.Context, item domain.LibraryItem) {
	c.push(ctx, domain.OutboxOpSaveItem, item, func(ctx context.Context) error {
		return c.remote.SaveItem(ctx, item)
	})
}

// PushItemDelete pushes a single item deletion to the remote, best-effort.
func (c *Coordinator) PushItemDelete(ctx context.Context, itemID string) {
	c.push(ctx, domain.OutboxOpDeleteItem, itemID, func(ctx context.Context) error {
		return c.remote.DeleteItem(ctx, itemID)
	})
}

// PushCollection pushes a created or updated collection, best-effort.
func (c *Coordinator) PushCollection(ctx context.Context, col domain.LibraryCollection, created bool) {
	c.push(ctx, domain.OutboxOpSaveCollection, col, func(ctx context.Context) error {
		if created {
			return c.remote.CreateCollection(ctx, col)
		}
		return c.remote.UpdateCollection(ctx, col)
	})
}

// PushCollectionDelete pushes a collection deletion, best-effort.
func (c *Coordinator) PushCollectionDelete(ctx context.Context, collectionID string) {
	c.push(ctx, domain.OutboxOpDeleteCollection, collectionID, func(ctx context.Context) error {
		return c.remote.DeleteCollection(ctx, collectionID)
	})
}

func (c *Coordinator) push(ctx context.Context, op string, payload any, do func(context.Context) error) {
	pushCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := do(pushCtx); err != nil {
		c.logger.Debug("cloud push failed, queueing", "op", op, "error", err)
		c.enqueue(op, payload)
	}
}

// enqueue appends an intended remote operation to the durable outbox.
func (c *Coordinator) enqueue(op string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to encode outbox payload", "op", op, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.loadOutbox()
	if err != nil {
		c.logger.Error("failed to load outbox", "error", err)
		return
	}
	entries = append(entries, domain.OutboxEntry{
		ID:        uuid.NewString(),
		Op:        op,
		Payload:   data,
		CreatedAt: time.Now(),
	})
	if err := c.store.Save(domain.KeySyncOutbox, entries); err != nil {
		c.logger.Error("failed to persist outbox", "error", err)
	}
}

// drainOutbox replays queued operations in order. Entries that fail again
// stay queued with their retry count bumped.
func (c *Coordinator) drainOutbox(ctx context.Context) {
	c.mu.Lock()
	entries, err := c.loadOutbox()
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("failed to load outbox", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	var remaining []domain.OutboxEntry
	for _, entry := range entries {
		if err := c.apply(ctx, entry); err != nil {
			entry.RetryCount++
			remaining = append(remaining, entry)
			c.logger.Debug("outbox replay failed", "op", entry.Op, "retries", entry.RetryCount, "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The mutex was released during replay, so pushes may have appended new
	// entries behind our back. Keep everything not in the replayed snapshot.
	replayed := make(map[string]bool, len(entries))
	for _, entry := range entries {
		replayed[entry.ID] = true
	}
	if current, err := c.loadOutbox(); err != nil {
		c.logger.Error("failed to load outbox", "error", err)
	} else {
		for _, entry := range current {
			if !replayed[entry.ID] {
				remaining = append(remaining, entry)
			}
		}
	}

	if err := c.store.Save(domain.KeySyncOutbox, remaining); err != nil {
		c.logger.Error("failed to persist outbox", "error", err)
	}
}

func (c *Coordinator) apply(ctx context.Context, entry domain.OutboxEntry) error {
	pushCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch entry.Op {
	case domain.OutboxOpSaveItem:
		var item domain.LibraryItem
		if err := json.Unmarshal(entry.Payload, &item); err != nil {
			return err
		}
		return c.remote.SaveItem(pushCtx, item)
	case domain.OutboxOpDeleteItem:
		var id string
		if err := json.Unmarshal(entry.Payload, &id); err != nil {
			return err
		}
		return c.remote.DeleteItem(pushCtx, id)
	case domain.OutboxOpSaveCollection:
		var col domain.LibraryCollection
		if err := json.Unmarshal(entry.Payload, &col); err != nil {
			return err
		}
		return c.remote.UpdateCollection(pushCtx, col)
	case domain.OutboxOpDeleteCollection:
		var id string
		if err := json.Unmarshal(entry.Payload, &id); err != nil {
			return err
		}
		return c.remote.DeleteCollection(pushCtx, id)
	default:
		c.logger.Warn("dropping unknown outbox op", "op", entry.Op)
		return nil
	}
}

func (c *Coordinator) loadOutbox() ([]domain.OutboxEntry, error) {
	var entries []domain.OutboxEntry
	if _, err := c.store.Load(domain.KeySyncOutbox, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// outboxLen reports the queued operation count. Caller holds c.mu.
func (c *Coordinator) outboxLen() int {
	entries, err := c.loadOutbox()
	if err != nil {
		return 0
	}
	return len(entries)
}
