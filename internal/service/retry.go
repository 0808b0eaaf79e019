package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

// RetryOnConflict runs fn again after a CONCURRENT_MODIFICATION, with
// exponential backoff, up to the configured number of retries. fn must re-read
// state on every attempt; every service operation does. Other errors end the loop.
func (s *WorkOrderService) RetryOnConflict(ctx context.Context, fn func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(policy, s.conflictRetries), ctx)
	op := func() error {
		err := fn(ctx)
		if err == nil || errors.Is(err, apperrors.ErrConcurrentModification) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.metrics.RecordConflictRetry()
		s.logger.Debug("retrying after concurrent modification", zap.Duration("wait", wait), zap.Error(err))
	}
	return backoff.RetryNotify(op, b, notify)
}
