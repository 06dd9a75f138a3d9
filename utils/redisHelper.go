package utils

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mmdatafocus/bills_backend/config"
)

/* Redis keys */

func SessionKey(token string) string {
	return "Session:" + token
}

// set of live session tokens per owner
func OwnerSessionsKey(ownerId string) string {
	return "Sessions:" + ownerId
}

func BillListKey(ownerId string, gen int64, limit, offset int) string {
	return fmt.Sprintf("BillList:%s:%d:%d:%d", ownerId, gen, limit, offset)
}

func DeletedBillListKey(ownerId string, gen int64, limit, offset int) string {
	return fmt.Sprintf("DeletedBillList:%s:%d:%d:%d", ownerId, gen, limit, offset)
}

// per-owner counter bumped on every write; part of every list page key
func ListGenerationKey(ownerId string) string {
	return "ListGen:" + ownerId
}

// set of cached list keys per owner, used for invalidation
func ListCacheIndexKey(ownerId string) string {
	return "ListKeys:" + ownerId
}

func BillLockKey(ownerId, estimateNo string) string {
	return fmt.Sprintf("lock:bill:%s:%s", ownerId, estimateNo)
}

/* List cache */

// StoreRedisList caches obj under key and records the key in the owner's index.
func StoreRedisList(ctx context.Context, rdb *config.Redis, ownerId string, key string, obj any, exp time.Duration) error {
	if rdb == nil || exp <= 0 {
		return nil
	}
	if err := rdb.SetObject(ctx, key, obj, exp); err != nil {
		return err
	}
	return rdb.AddSet(ctx, ListCacheIndexKey(ownerId), key)
}

// GetRedisList loads a cached list into dest; reports false on a miss.
func GetRedisList(ctx context.Context, rdb *config.Redis, key string, dest any) (bool, error) {
	return rdb.GetObject(ctx, key, dest)
}

// ListGeneration returns the owner's current list cache generation.
func ListGeneration(ctx context.Context, rdb *config.Redis, ownerId string) (int64, error) {
	val, ok, err := rdb.GetValue(ctx, ListGenerationKey(ownerId))
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// ClearListCache moves the owner to a new generation, so pages read before
// the write can no longer be served, then drops the pages already cached.
func ClearListCache(ctx context.Context, rdb *config.Redis, ownerId string) error {
	if rdb == nil {
		return nil
	}
	if _, err := rdb.Incr(ctx, ListGenerationKey(ownerId)); err != nil {
		return err
	}
	indexKey := ListCacheIndexKey(ownerId)
	keys, err := rdb.GetSetMembers(ctx, indexKey)
	if err != nil {
		return err
	}
	return rdb.RemoveKey(ctx, append(keys, indexKey)...)
}
