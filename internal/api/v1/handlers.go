package apiv1

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayHook/app/models"
	"github.com/ManuelReschke/PayHook/internal/pkg/jobqueue"
)

const (
	dayLayout         = "2006-01-02"
	defaultStatsDays  = 7
	maxStatsRangeDays = 366
)

// QueueStatsSource reports job queue depth. *jobqueue.Queue satisfies it.
type QueueStatsSource interface {
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
}

// DailyStatsSource lists aggregated webhook outcomes.
type DailyStatsSource interface {
	ListDailyStats(ctx context.Context, from, to time.Time) ([]models.WebhookDailyStat, error)
}

// APIServer implements the ServerInterface
type APIServer struct {
	queue QueueStatsSource
	stats DailyStatsSource
	now   func() time.Time
}

// NewAPIServer creates a new API server instance
func NewAPIServer(queue QueueStatsSource, stats DailyStatsSource) *APIServer {
	return &APIServer{queue: queue, stats: stats, now: time.Now}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetQueueStats returns pending and in-flight job counts plus lifetime status totals.
func (s *APIServer) GetQueueStats(c *fiber.Ctx) error {
	if s.queue == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(Error{Error: "queue_unavailable"})
	}
	ctx := c.UserContext()

	pending, err := s.queue.GetQueueSize(ctx)
	if err != nil {
		log.Errorf("[API] Queue size failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(Error{Error: "queue_unavailable"})
	}
	processing, err := s.queue.GetProcessingSize(ctx)
	if err != nil {
		log.Errorf("[API] Processing size failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(Error{Error: "queue_unavailable"})
	}
	jobStats, err := s.queue.GetJobStats(ctx)
	if err != nil {
		log.Errorf("[API] Job stats failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(Error{Error: "queue_unavailable"})
	}

	jobs := make(map[string]int64, len(jobStats))
	for status, n := range jobStats {
		jobs[string(status)] = n
	}
	return c.JSON(QueueStats{Pending: pending, Processing: processing, Jobs: jobs})
}

// GetWebhookStats returns per-day webhook outcomes. Without parameters the last seven
// days including today are returned.
func (s *APIServer) GetWebhookStats(c *fiber.Ctx, params GetWebhookStatsParams) error {
	if s.stats == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(Error{Error: "stats_unavailable"})
	}

	to := s.now().UTC().Truncate(24 * time.Hour)
	if params.To != nil {
		parsed, err := time.Parse(dayLayout, *params.To)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(Error{Error: "bad_request", Message: "to must be YYYY-MM-DD"})
		}
		to = parsed
	}
	from := to.AddDate(0, 0, -(defaultStatsDays - 1))
	if params.From != nil {
		parsed, err := time.Parse(dayLayout, *params.From)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(Error{Error: "bad_request", Message: "from must be YYYY-MM-DD"})
		}
		from = parsed
	}
	if from.After(to) {
		return c.Status(fiber.StatusBadRequest).JSON(Error{Error: "bad_request", Message: "from is after to"})
	}
	if to.Sub(from) > maxStatsRangeDays*24*time.Hour {
		return c.Status(fiber.StatusBadRequest).JSON(Error{Error: "bad_request", Message: "range is limited to one year"})
	}

	rows, err := s.stats.ListDailyStats(c.UserContext(), from, to)
	if err != nil {
		log.Errorf("[API] Webhook stats failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(Error{Error: "stats_unavailable"})
	}

	out := WebhookStats{
		From:   from.Format(dayLayout),
		To:     to.Format(dayLayout),
		Totals: make(map[string]int64),
		Days:   make([]WebhookStat, 0, len(rows)),
	}
	for _, row := range rows {
		out.Totals[row.Outcome] += row.Count
		out.Days = append(out.Days, WebhookStat{Day: row.Day, Processor: row.Processor, Outcome: row.Outcome, Count: row.Count})
	}
	return c.JSON(out)
}
