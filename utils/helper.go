package utils

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
)

func ConvertStringToDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}
	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}
	return dec, nil
}

// ObtainLock takes an advisory lock for the given resource key. Returns a
// release func. A nil locker means Redis isn't configured; the caller then
// relies on row-level locking alone, so this is not an error.
func ObtainLock(ctx context.Context, locker *redislock.Client, lockKey string, ttl time.Duration) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	lock, err := locker.Obtain(ctx, lockKey, ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, ConcurrencyConflictError("could not obtain lock for %s", lockKey)
	} else if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}
