// Package worker provides async anomaly scanning for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/weaver/internal/anomaly"
	"github.com/opensource-finance/weaver/internal/domain"
	"github.com/opensource-finance/weaver/internal/planner"
)

// Worker scans recorded actuals asynchronously from the EventBus.
// Each recorded daily total triggers a rescan of its month.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	registry *planner.Registry

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, registry *planner.Registry) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicActualRecorded, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicActualRecorded, func(ctx context.Context, msg *domain.Message) error {
		return w.scanMonth(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicActualRecorded,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.scanMonth(ctx, msg.TenantID, msg)
}

// ActualMessage is the message payload published when a daily total lands.
type ActualMessage struct {
	TenantID string  `json:"tenantId"`
	Year     int     `json:"year"`
	Month    int     `json:"month"`
	Day      int     `json:"day"`
	Total    float64 `json:"total"`
	ConfigID string  `json:"configId,omitempty"`
}

// scanMonth reloads a month of actuals and rescans it for anomalies.
func (w *Worker) scanMonth(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var actMsg ActualMessage
	if err := json.Unmarshal(msg.Payload, &actMsg); err != nil {
		slog.Error("failed to parse actual message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if actMsg.TenantID != "" {
		tenantID = actMsg.TenantID
	}

	slog.Debug("scanning month",
		"tenant_id", tenantID,
		"year", actMsg.Year,
		"month", actMsg.Month,
	)

	actuals, err := w.repo.ListActuals(ctx, tenantID, actMsg.Year, actMsg.Month)
	if err != nil {
		slog.Error("failed to load actuals",
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	series := SeriesFrom(actuals)

	k := domain.DefaultAnomalyK
	configID := actMsg.ConfigID
	if configID == "" {
		configID = planner.DefaultConfigID
	}
	if cc, ok := w.registry.Get(configID); ok {
		k = cc.Config.AnomalyThresholdK()
	}

	report := &domain.AnomalyReport{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Year:      actMsg.Year,
		Month:     actMsg.Month,
		K:         k,
		SampleLen: anomaly.PositiveCount(series),
		Anomalies: anomaly.Detect(series, k),
		ScannedAt: time.Now().UTC(),
	}

	if err := w.repo.SaveAnomalyReport(ctx, tenantID, report); err != nil {
		slog.Error("failed to save anomaly report",
			"tenant_id", tenantID,
			"error", err,
		)
	}

	resultPayload, _ := json.Marshal(report)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAnomalyScanned, resultPayload); err != nil {
		slog.Error("failed to publish scan result",
			"tenant_id", tenantID,
			"error", err,
		)
	}

	if report.Flagged() {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAnomalyAlert, resultPayload); err != nil {
			slog.Error("failed to publish anomaly alert",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	slog.Info("month scanned",
		"tenant_id", tenantID,
		"year", actMsg.Year,
		"month", actMsg.Month,
		"sample_len", report.SampleLen,
		"anomalies", len(report.Anomalies),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// SeriesFrom converts stored actuals into a daily-total series.
func SeriesFrom(actuals []*domain.DailyActual) []domain.DailyTotal {
	series := make([]domain.DailyTotal, 0, len(actuals))
	for _, a := range actuals {
		series = append(series, domain.DailyTotal{
			Day:   strconv.Itoa(a.Day),
			Total: a.Total,
		})
	}
	return series
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
