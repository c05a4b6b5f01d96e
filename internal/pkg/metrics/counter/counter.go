package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PayHook/app/models"
	"github.com/ManuelReschke/PayHook/internal/pkg/cache"
	"github.com/ManuelReschke/PayHook/internal/pkg/database"
)

const webhookOutcomesKey = "webhook:counters:outcomes"

// Webhook delivery outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

var now = time.Now

// AddWebhookOutcome increments the pending counter for processor/outcome on today's date.
func AddWebhookOutcome(processor, outcome string) error {
	return addWebhookOutcome(context.Background(), cache.GetClient(), processor, outcome)
}

func addWebhookOutcome(ctx context.Context, rdb *redis.Client, processor, outcome string) error {
	field := strings.Join([]string{now().UTC().Format("2006-01-02"), processor, outcome}, "|")
	return rdb.HIncrBy(ctx, webhookOutcomesKey, field, 1).Err()
}

// FlushAll drains the pending counters into webhook_daily_stats.
func FlushAll() error {
	db := database.GetDB()
	if db == nil {
		return nil
	}
	return flushOutcomes(context.Background(), cache.GetClient(), db)
}

type statKey struct {
	day, processor, outcome string
}

// flushOutcomes drains the Redis hash atomically and upserts the increments. RENAME to a
// temporary key keeps increments that arrive during the flush for the next round.
func flushOutcomes(ctx context.Context, rdb *redis.Client, db *gorm.DB) error {
	tmpKey := fmt.Sprintf("%s:tmp:%d", webhookOutcomesKey, time.Now().UnixNano())
	if err := rdb.Rename(ctx, webhookOutcomesKey, tmpKey).Err(); err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}

	keys := make([]statKey, 0, len(data))
	incs := make(map[statKey]int64, len(data))
	for field, v := range data {
		key, ok := parseField(field)
		if !ok {
			continue
		}
		inc, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || inc == 0 {
			continue
		}
		keys = append(keys, key)
		incs[key] = inc
	}
	// Stable order keeps row locks consistent between concurrent flushers.
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.day != b.day {
			return a.day < b.day
		}
		if a.processor != b.processor {
			return a.processor < b.processor
		}
		return a.outcome < b.outcome
	})

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, k := range keys {
			row := models.WebhookDailyStat{Day: k.day, Processor: k.processor, Outcome: k.outcome, Count: incs[k]}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "day"}, {Name: "processor"}, {Name: "outcome"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("count + ?", incs[k])}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Put the drained counts back so they are retried on the next tick.
		pipe := rdb.Pipeline()
		for field, v := range data {
			if inc, perr := strconv.ParseInt(v, 10, 64); perr == nil {
				pipe.HIncrBy(ctx, webhookOutcomesKey, field, inc)
			}
		}
		pipe.Del(ctx, tmpKey)
		_, _ = pipe.Exec(ctx)
		return err
	}

	return rdb.Del(ctx, tmpKey).Err()
}

func parseField(field string) (statKey, bool) {
	parts := strings.Split(field, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return statKey{}, false
	}
	return statKey{day: parts[0], processor: parts[1], outcome: parts[2]}, true
}
