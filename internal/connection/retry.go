package connection

import (
	"context"
	"errors"
	"time"

	"adgmanager/internal/adguard"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// withRetry runs fn against the client for instanceID ("" for the active
// instance). The first failure drops the cached client so the next attempt
// rebuilds it. AUTH_ERROR is not retried. The final failure is appended to the
// error log once; a success clears the log. The delay between attempts runs
// on go-retry's own timer, not on m.clock.
func (m *Manager) withRetry(ctx context.Context, op, instanceID string, fn func(context.Context, API) error) error {
	delay := m.retryDelay
	if delay <= 0 {
		delay = time.Nanosecond
	}
	backoff := retry.WithMaxRetries(uint64(m.maxRetries), retry.NewConstant(delay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		client, _, err := m.clientFor(ctx, instanceID)
		if err != nil {
			// No instance to talk to, retrying will not help
			return err
		}

		err = fn(ctx, client)
		if err == nil {
			return nil
		}

		if attempt == 1 {
			m.invalidateClient()
		}

		cerr := adguard.Classify(op, err)
		logger := m.log.WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt,
			"code":      cerr.Code,
		})
		if cerr.Code == adguard.CodeAuth {
			logger.Warn("Authentication failed, not retrying")
			return cerr
		}
		logger.Debug("Operation failed, will retry")
		return retry.RetryableError(cerr)
	})

	if err != nil {
		if errors.Is(err, ErrNoActiveInstance) || errors.Is(err, ErrInstanceNotFound) || errors.Is(err, context.Canceled) {
			return err
		}
		m.recordError(ctx, op, err)
		return err
	}

	m.clearErrors(ctx)
	return nil
}
