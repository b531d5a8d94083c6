package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/weaver/internal/anomaly"
	"github.com/opensource-finance/weaver/internal/cohort"
	"github.com/opensource-finance/weaver/internal/domain"
	"github.com/opensource-finance/weaver/internal/pacing"
	"github.com/opensource-finance/weaver/internal/planner"
	"github.com/opensource-finance/weaver/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	registry *planner.Registry
	pacer    *pacing.Limiter
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, registry *planner.Registry, pacer *pacing.Limiter, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		registry: registry,
		pacer:    pacer,
		version:  version,
	}
}

// calendarTTL is how long generated calendars stay cached.
const calendarTTL = time.Hour

// PlanRequest is the request body for POST /plans.
type PlanRequest struct {
	Year     int                    `json:"year"`
	Month    int                    `json:"month"`
	Budget   float64                `json:"budget"`
	ConfigID string                 `json:"configId,omitempty"`
	Profile  domain.BehaviorProfile `json:"profile"`
}

// GeneratePlan handles POST /plans requests: it builds the behavior-adjusted
// monthly calendar, persists it, caches it, and announces it on the bus.
func (h *Handler) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Year < 1 || req.Month < 1 || req.Month > 12 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "year and month (1-12) are required",
		})
		return
	}
	if req.Budget <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "budget must be positive",
		})
		return
	}

	if h.pacer != nil {
		allowed, count, err := h.pacer.Allow(ctx, tenantID)
		if err != nil {
			slog.Error("pacing check failed", "tenant_id", tenantID, "error", err)
		}
		if !allowed {
			slog.Warn("plan generation rate limit hit", "tenant_id", tenantID, "count", count)
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "plan generation rate limit exceeded",
			})
			return
		}
	}

	configID := req.ConfigID
	if configID == "" {
		configID = planner.DefaultConfigID
	}

	compiled, ok := h.registry.Get(configID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "plan config not found: " + configID,
		})
		return
	}

	cal, err := compiled.BuildCalendar(planner.CalendarInput{
		TenantID: tenantID,
		Year:     req.Year,
		Month:    req.Month,
		Budget:   req.Budget,
		Profile:  req.Profile,
	})
	if err != nil {
		slog.Error("plan generation failed", "config_id", configID, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveCalendar(ctx, tenantID, cal); err != nil {
			slog.Error("failed to save calendar", "error", err)
		}
	}

	if h.cache != nil {
		if err := h.cache.SetCalendar(ctx, tenantID, cal, calendarTTL); err != nil {
			slog.Error("failed to cache calendar", "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(cal)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicCalendarGenerated, payload); err != nil {
			slog.Error("failed to publish calendar", "error", err)
		}
	}

	slog.Info("plan generated",
		"tenant_id", tenantID,
		"config_id", configID,
		"year", cal.Year,
		"month", cal.Month,
		"behavior", cal.Behavior,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, cal)
}

// GetCalendar retrieves a stored calendar, checking the cache first.
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	year, month, ok := parseYearMonth(w, r)
	if !ok {
		return
	}

	if h.cache != nil {
		cal, err := h.cache.GetCalendar(ctx, tenantID, year, month)
		if err != nil {
			slog.Error("cache lookup failed", "error", err)
		}
		if cal != nil {
			writeJSON(w, http.StatusOK, cal)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	cal, err := h.repo.GetCalendar(ctx, tenantID, year, month)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get calendar", "year", year, "month", month, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "calendar not found",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.SetCalendar(ctx, tenantID, cal, calendarTTL)
	}

	writeJSON(w, http.StatusOK, cal)
}

// ActualRequest is the request body for POST /actuals.
type ActualRequest struct {
	Year       int                `json:"year"`
	Month      int                `json:"month"`
	Day        int                `json:"day"`
	Total      float64            `json:"total"`
	Categories map[string]float64 `json:"categories,omitempty"`
	ConfigID   string             `json:"configId,omitempty"`
}

// actualEvent is the payload published on the actual-recorded topic.
type actualEvent struct {
	TenantID string  `json:"tenantId"`
	Year     int     `json:"year"`
	Month    int     `json:"month"`
	Day      int     `json:"day"`
	Total    float64 `json:"total"`
	ConfigID string  `json:"configId,omitempty"`
}

// RecordActual stores a realized daily total and announces it on the bus so
// the async worker can rescan the month.
func (h *Handler) RecordActual(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ActualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Year < 1 || req.Month < 1 || req.Month > 12 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "year and month (1-12) are required",
		})
		return
	}
	if req.Day < 1 || req.Day > domain.DayCount(req.Year, req.Month) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "day out of range for month",
		})
		return
	}
	if req.Total < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "total must not be negative",
		})
		return
	}

	actual := &domain.DailyActual{
		TenantID:   tenantID,
		Year:       req.Year,
		Month:      req.Month,
		Day:        req.Day,
		Total:      req.Total,
		Categories: req.Categories,
		RecordedAt: time.Now().UTC(),
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.SaveActual(ctx, tenantID, actual); err != nil {
		slog.Error("failed to save actual", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save actual",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(actualEvent{
			TenantID: tenantID,
			Year:     req.Year,
			Month:    req.Month,
			Day:      req.Day,
			Total:    req.Total,
			ConfigID: req.ConfigID,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicActualRecorded, payload); err != nil {
			slog.Error("failed to publish actual", "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, actual)
}

// ScanRequest is the request body for POST /anomalies/scan.
type ScanRequest struct {
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	ConfigID string `json:"configId,omitempty"`
}

// ScanAnomalies runs a synchronous anomaly scan over a month of actuals.
func (h *Handler) ScanAnomalies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Year < 1 || req.Month < 1 || req.Month > 12 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "year and month (1-12) are required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	actuals, err := h.repo.ListActuals(ctx, tenantID, req.Year, req.Month)
	if err != nil {
		slog.Error("failed to list actuals", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load actuals",
		})
		return
	}

	series := make([]domain.DailyTotal, 0, len(actuals))
	for _, a := range actuals {
		series = append(series, domain.DailyTotal{
			Day:   strconv.Itoa(a.Day),
			Total: a.Total,
		})
	}

	k := domain.DefaultAnomalyK
	configID := req.ConfigID
	if configID == "" {
		configID = planner.DefaultConfigID
	}
	if compiled, ok := h.registry.Get(configID); ok {
		k = compiled.Config.AnomalyThresholdK()
	}

	report := &domain.AnomalyReport{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Year:      req.Year,
		Month:     req.Month,
		K:         k,
		SampleLen: anomaly.PositiveCount(series),
		Anomalies: anomaly.Detect(series, k),
		ScannedAt: time.Now().UTC(),
	}

	if err := h.repo.SaveAnomalyReport(ctx, tenantID, report); err != nil {
		slog.Error("failed to save anomaly report", "error", err)
	}

	if h.bus != nil {
		payload, _ := json.Marshal(report)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicAnomalyScanned, payload); err != nil {
			slog.Error("failed to publish scan result", "error", err)
		}
		if report.Flagged() {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAnomalyAlert, payload); err != nil {
				slog.Error("failed to publish anomaly alert", "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, report)
}

// GetAnomalyReport retrieves the stored report for a month.
func (h *Handler) GetAnomalyReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	year, month, ok := parseYearMonth(w, r)
	if !ok {
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	report, err := h.repo.GetAnomalyReport(ctx, tenantID, year, month)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get anomaly report", "year", year, "month", month, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "anomaly report not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// CohortRequest is the request body for POST /cohort.
type CohortRequest struct {
	ConfigID string                 `json:"configId,omitempty"`
	Profile  domain.BehaviorProfile `json:"profile"`
}

// ClassifyCohort maps a behavior profile onto its cohort string using the
// config's cohort policy.
func (h *Handler) ClassifyCohort(w http.ResponseWriter, r *http.Request) {
	var req CohortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	configID := req.ConfigID
	if configID == "" {
		configID = planner.DefaultConfigID
	}

	var policy domain.CohortPolicy
	if compiled, ok := h.registry.Get(configID); ok {
		policy = compiled.Config.Cohort
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"cohort": cohort.Classify(req.Profile, policy),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListConfigs returns all plan configs loaded in the registry.
// Configs are loaded from the database at startup and can be reloaded via
// POST /configs/reload.
func (h *Handler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	loaded := h.registry.GetLoadedConfigs()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configs": loaded,
		"count":   len(loaded),
		"source":  "database",
	})
}

// GetConfig retrieves a plan config by ID from the registry.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "id")

	if configID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "config id is required",
		})
		return
	}

	if compiled, ok := h.registry.Get(configID); ok {
		writeJSON(w, http.StatusOK, compiled.Config)
		return
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "config not found",
	})
}

// GlobalTenantID is used for plan configs that apply to all tenants.
const GlobalTenantID = "*"

// CreateConfig validates a plan config and saves it to the database.
// Configs are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /configs/reload to hot-reload into the registry.
func (h *Handler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cfg domain.PlanConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if cfg.ID == "" || cfg.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and name are required",
		})
		return
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	cfg.TenantID = GlobalTenantID

	// Validate structure, curves, and CEL guards before persisting
	if err := h.registry.ValidateConfig(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid plan config: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SavePlanConfig(ctx, GlobalTenantID, &cfg); err != nil {
			slog.Error("failed to save plan config", "id", cfg.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save config",
			})
			return
		}
	}

	slog.Info("plan config created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"config":  cfg,
		"message": "Config created. Call POST /configs/reload to apply changes.",
	})
}

// DeleteConfig soft-deletes a plan config and auto-reloads the registry.
func (h *Handler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	configID := chi.URLParam(r, "id")

	if configID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "config id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeletePlanConfig(ctx, GlobalTenantID, configID); err != nil {
			slog.Error("failed to delete plan config", "id", configID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "config not found",
			})
			return
		}

		// Auto-reload registry after delete
		dbConfigs, err := h.repo.ListPlanConfigs(ctx, GlobalTenantID)
		if err != nil {
			slog.Error("failed to reload configs after delete", "error", err)
		} else if err := h.registry.ReloadConfigs(dbConfigs); err != nil {
			slog.Error("failed to reload registry after delete", "error", err)
		} else {
			slog.Info("configs auto-reloaded after delete", "count", len(dbConfigs))
		}
	}

	slog.Info("plan config deleted", "id", configID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Config deleted and registry reloaded.",
	})
}

// ReloadConfigs reloads all plan configs from the database into the
// registry. This enables hot-reloading without server restart.
func (h *Handler) ReloadConfigs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbConfigs, err := h.repo.ListPlanConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list configs from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load configs from database",
		})
		return
	}

	if err := h.registry.ReloadConfigs(dbConfigs); err != nil {
		slog.Error("failed to reload configs into registry", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload configs: " + err.Error(),
		})
		return
	}

	slog.Info("configs reloaded from database", "count", len(dbConfigs))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "configs reloaded successfully",
		"count":   len(dbConfigs),
	})
}

func parseYearMonth(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid year",
		})
		return 0, 0, false
	}

	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid month",
		})
		return 0, 0, false
	}

	return year, month, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
