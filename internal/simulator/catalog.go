package simulator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"golang.org/x/sync/singleflight"
)

// Catalog keeps the question bank in memory. Concurrent first loads share a
// single call to the loader.
type Catalog struct {
	loader repository.BankLoader
	log    zerolog.Logger
	sf     singleflight.Group

	mu     sync.RWMutex
	loaded bool
	tests  map[model.ID]*model.TestDefinition
	order  []model.ID
}

// NewCatalog creates a Catalog backed by loader.
func NewCatalog(loader repository.BankLoader, log zerolog.Logger) *Catalog {
	return &Catalog{
		loader: loader,
		log:    log.With().Str("component", "catalog").Logger(),
	}
}

// Test returns the definition of testID.
func (c *Catalog) Test(ctx context.Context, testID model.ID) (*model.TestDefinition, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tests[testID]
	if !ok {
		return nil, ErrTestNotFound
	}
	return t, nil
}

// List returns every test in bank order.
func (c *Catalog) List(ctx context.Context) ([]*model.TestDefinition, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.TestDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tests[id])
	}
	return out, nil
}

// Reload drops the cached bank and loads it again.
func (c *Catalog) Reload(ctx context.Context) error {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
	return c.ensure(ctx)
}

func (c *Catalog) ensure(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	_, err, _ := c.sf.Do("bank", func() (interface{}, error) {
		c.mu.RLock()
		loaded := c.loaded
		c.mu.RUnlock()
		if loaded {
			return nil, nil
		}

		defs, err := c.loader.LoadTests(ctx)
		if err != nil {
			return nil, fmt.Errorf("load question bank: %w", err)
		}

		tests := make(map[model.ID]*model.TestDefinition, len(defs))
		order := make([]model.ID, 0, len(defs))
		questions := 0
		for i := range defs {
			d := defs[i]
			if _, dup := tests[d.ID]; dup {
				c.log.Warn().Str("test_id", d.ID.String()).Msg("Duplicate test id in bank, keeping the first")
				continue
			}
			tests[d.ID] = &d
			order = append(order, d.ID)
			questions += len(d.Questions)
		}

		c.mu.Lock()
		c.tests = tests
		c.order = order
		c.loaded = true
		c.mu.Unlock()

		c.log.Info().Int("tests", len(order)).Int("questions", questions).Msg("Question bank loaded")
		return nil, nil
	})
	return err
}
