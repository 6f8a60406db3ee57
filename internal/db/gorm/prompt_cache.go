package gorm

import (
	"context"
	"errors"
	"fmt"

	gormdb "gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PromptCache stores judge replies keyed by (prompt hash, model). Rows
// are never updated: the same prompt against the same model always
// yields the same cached answer.
type PromptCache struct {
	store *Store
}

// NewPromptCache creates a prompt cache backed by the shared connection.
func NewPromptCache(store *Store) *PromptCache {
	return &PromptCache{store: store}
}

// Get returns the cached reply for the prompt, or false if absent.
func (c *PromptCache) Get(ctx context.Context, promptHash, model string) (string, bool, error) {
	timeoutCtx, cancel := c.store.WithTimeout(ctx, DefaultQueryTimeout, "prompt_cache_get")
	defer cancel()

	var row SearchCache
	err := c.store.DB.WithContext(timeoutCtx).
		Where("prompt_hash = ? AND model = ?", promptHash, model).
		First(&row).Error
	if errors.Is(err, gormdb.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read prompt cache: %w", err)
	}
	return row.Results, true, nil
}

// Put stores the reply, keeping an existing row on conflict.
func (c *PromptCache) Put(ctx context.Context, promptHash, model, results string) error {
	timeoutCtx, cancel := c.store.WithTimeout(ctx, DefaultQueryTimeout, "prompt_cache_put")
	defer cancel()

	row := SearchCache{PromptHash: promptHash, Model: model, Results: results}
	err := c.store.DB.WithContext(timeoutCtx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("write prompt cache: %w", err)
	}
	return nil
}
