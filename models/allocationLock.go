package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"github.com/bsm/redislock"
)

const allocationLockTTL = 10 * time.Second

// obtainAllocationLock serializes the read-validate-insert sequence per
// purchase order line. The lock must be held until the surrounding
// transaction commits, otherwise a concurrent creator can read a stale total.
func obtainAllocationLock(ctx context.Context, businessId string, poItemId int) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, utils.NewAppError(utils.ErrorCodeUpstreamUnavailable,
			"service not ready (redis lock not initialized)")
	}

	key := fmt.Sprintf("allocation-lock:%s:%d", businessId, poItemId)
	lock, err := locker.Obtain(ctx, key, allocationLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	})
	if err == redislock.ErrNotObtained {
		return nil, utils.NewAppError(utils.ErrorCodeConflict, "line item is locked by another allocation operation")
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

func releaseAllocationLock(lock *redislock.Lock) {
	if lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = lock.Release(ctx)
}
