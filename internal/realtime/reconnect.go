package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy controls automatic reconnection after an unexpected drop.
// The initial Connect is never retried.
type ReconnectPolicy struct {
	Enabled     bool
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultReconnectPolicy retries five times, starting at one second.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:     true,
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

func (p ReconnectPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		eb.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	var b backoff.BackOff = eb
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
	}
	return backoff.WithContext(b, ctx)
}

// reconnect redials with exponential backoff until a connection is
// established, the policy gives up or Disconnect cancels it.
func (c *Channel) reconnect() {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closing || c.stopReconnect != nil {
		c.mu.Unlock()
		cancel()
		return
	}
	c.stopReconnect = cancel
	epoch := c.epoch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.stopReconnect = nil
		c.mu.Unlock()
		cancel()
	}()

	b := c.opts.Reconnect.backOff(ctx)
	attempt := 0
	for {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			c.log.Error().Int("attempts", attempt).Msg("Realtime reconnect gave up")
			return
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		attempt++
		err := c.open(ctx, attempt, epoch)
		if err == nil || errors.Is(err, errClosed) {
			return
		}
	}
}
