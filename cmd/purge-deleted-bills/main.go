// purge-deleted-bills permanently removes an owner's deleted bills older than
// -days. Run it as a scheduled job; it uses the same DB_* env as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/bills_backend/config"
	"github.com/mmdatafocus/bills_backend/models"
	"github.com/mmdatafocus/bills_backend/utils"
)

func main() {
	cfg := config.Load()
	ownerID := flag.String("owner-id", cfg.Admin.UserId, "Owner whose deleted bills are purged.")
	days := flag.Int("days", 90, "Purge deleted bills whose deletion is older than this many days.")
	dryRun := flag.Bool("dry-run", false, "Only report how many rows would be purged.")
	flag.Parse()

	if strings.TrimSpace(*ownerID) == "" {
		fmt.Fprintln(os.Stderr, "-owner-id is required")
		os.Exit(2)
	}
	if *days <= 0 {
		fmt.Fprintln(os.Stderr, "-days must be positive")
		os.Exit(2)
	}
	os.Exit(run(cfg, *ownerID, *days, *dryRun))
}

const redisConnectBudget = 15 * time.Second

// connectListCache gives redis its own short budget; without it the purge
// still runs and cached list pages expire on their own.
func connectListCache(ctx context.Context, cfg config.RedisConfig, budget time.Duration) *config.Redis {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	rdb, err := config.ConnectRedisWithRetry(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis unavailable, list cache will expire on its own: %v\n", err)
		return nil
	}
	return rdb
}

// run returns the exit code so deferred cleanup happens before os.Exit.
func run(cfg *config.Config, ownerID string, days int, dryRun bool) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := config.ConnectDatabaseWithRetry(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		return 1
	}
	defer config.CloseDatabase(db)

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	if dryRun {
		var count int64
		if err := db.WithContext(utils.SetOwnerIdInContext(ctx, ownerID)).Model(&models.DeletedBill{}).
			Where("owner_id = ? AND deleted_at < ?", ownerID, cutoff).
			Count(&count).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to count deleted bills: %v\n", err)
			return 1
		}
		fmt.Printf("would purge %d deleted bills for owner=%q deleted before %s\n", count, ownerID, cutoff.Format(time.RFC3339))
		return 0
	}

	rdb := connectListCache(ctx, cfg.Redis, redisConnectBudget)
	defer rdb.Close()

	manager := models.NewBillManager(db, rdb, nil, cfg.ListCacheTTL)
	purged, err := manager.PurgeDeletedBefore(ctx, ownerID, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to purge deleted bills: %v\n", err)
		return 1
	}
	fmt.Printf("purged %d deleted bills for owner=%q deleted before %s\n", purged, ownerID, cutoff.Format(time.RFC3339))
	return 0
}
