package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/opensource-finance/weaver/internal/bus"
	"github.com/opensource-finance/weaver/internal/cache"
	"github.com/opensource-finance/weaver/internal/domain"
	"github.com/opensource-finance/weaver/internal/planner"
	"github.com/opensource-finance/weaver/internal/repository"
)

func testPlanConfig() *domain.PlanConfig {
	return &domain.PlanConfig{
		ID:      planner.DefaultConfigID,
		Name:    "Default Plan",
		Version: "1.0.0",
		Weights: domain.CategoryWeights{
			"groceries":     0.30,
			"rent":          0.35,
			"entertainment": 0.10,
			"shopping":      0.10,
			"savings":       0.10,
			"debt":          0.05,
		},
		Behaviors: map[string]domain.BehaviorBoost{
			domain.BehaviorImpulsive: {
				Factor:     1.5,
				Categories: []string{"entertainment", "shopping"},
			},
		},
		BiasCurves: map[string][]float64{
			"entertainment": {0.5, 0.5, 0.5, 0.5, 1.5, 2.0, 2.0},
		},
		DefaultCurve: []float64{1, 1, 1, 1, 1, 1, 1},
		Cooldowns:    map[string]int{"shopping": 7},
		AnomalyK:     2.5,
		Cohort: domain.CohortPolicy{
			HighIncome: 7000,
			MidIncome:  3000,
		},
		Enabled: true,
	}
}

// createTestServer wires a server with sqlite, LRU cache, and channel bus.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	return createTestServerCfg(t, domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	})
}

func createTestServerCfg(t *testing.T, cfg domain.ServerConfig) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "weaver-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	registry, err := planner.NewRegistry()
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	if err := registry.LoadConfig(testPlanConfig()); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	return NewServer(cfg, repo, cache.NewLRUCache(100), eventBus, registry, "test-v1")
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestGeneratePlanEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SuccessfulGeneration", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/plans", PlanRequest{
			Year:   2025,
			Month:  3,
			Budget: 2500,
			Profile: domain.BehaviorProfile{
				Behavior: domain.BehaviorImpulsive,
				Income:   4500,
			},
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var cal domain.MonthlyCalendar
		if err := json.Unmarshal(rr.Body.Bytes(), &cal); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if cal.ID == "" {
			t.Error("expected calendar id in response")
		}
		if len(cal.Days) != 31 {
			t.Errorf("expected 31 days for March, got %d", len(cal.Days))
		}
		if cal.Behavior != domain.BehaviorImpulsive {
			t.Errorf("expected behavior carried through, got %s", cal.Behavior)
		}

		var total float64
		for _, d := range cal.Days {
			total += d.Total
		}
		if math.Abs(total-2500) > 0.10 {
			t.Errorf("day totals %.2f drifted from budget 2500", total)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/plans", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		// No X-Tenant-ID header

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/plans", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidMonth", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/plans", PlanRequest{
			Year: 2025, Month: 13, Budget: 1000,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NonPositiveBudget", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/plans", PlanRequest{
			Year: 2025, Month: 3, Budget: 0,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownConfig", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/plans", PlanRequest{
			Year: 2025, Month: 3, Budget: 1000, ConfigID: "missing",
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/plans", PlanRequest{
			Year: 2025, Month: 4, Budget: 1200,
			Profile: domain.BehaviorProfile{Behavior: domain.BehaviorNeutral},
		})

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestCalendarEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("RoundTrip", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/plans", PlanRequest{
			Year: 2025, Month: 5, Budget: 1800,
			Profile: domain.BehaviorProfile{Behavior: domain.BehaviorFrugal},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("plan generation failed: %d", rr.Code)
		}

		rr = doJSON(t, server, http.MethodGet, "/calendars/2025/5", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var cal domain.MonthlyCalendar
		if err := json.Unmarshal(rr.Body.Bytes(), &cal); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if cal.Budget != 1800 {
			t.Errorf("expected budget 1800, got %.2f", cal.Budget)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/calendars/1999/1", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("InvalidMonth", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/calendars/2025/13", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestActualsAndAnomalyEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("RecordActual", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/actuals", ActualRequest{
			Year: 2025, Month: 6, Day: 1, Total: 42.50,
			Categories: map[string]float64{"groceries": 42.50},
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("RejectsBadDay", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/actuals", ActualRequest{
			Year: 2025, Month: 6, Day: 31, Total: 10,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for June 31, got %d", rr.Code)
		}
	})

	t.Run("RejectsNegativeTotal", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/actuals", ActualRequest{
			Year: 2025, Month: 6, Day: 2, Total: -5,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ScanFlagsSpike", func(t *testing.T) {
		for day := 1; day <= 30; day++ {
			total := 12.0
			if day == 15 {
				total = 300.0
			}
			rr := doJSON(t, server, http.MethodPost, "/actuals", ActualRequest{
				Year: 2025, Month: 9, Day: day, Total: total,
			})
			if rr.Code != http.StatusCreated {
				t.Fatalf("day %d: expected 201, got %d", day, rr.Code)
			}
		}

		rr := doJSON(t, server, http.MethodPost, "/anomalies/scan", ScanRequest{
			Year: 2025, Month: 9,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var report domain.AnomalyReport
		if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
			t.Fatalf("failed to parse report: %v", err)
		}

		if report.SampleLen != 30 {
			t.Errorf("expected sample length 30, got %d", report.SampleLen)
		}
		if report.K != 2.5 {
			t.Errorf("expected k 2.5 from config, got %v", report.K)
		}
		if len(report.Anomalies) != 1 || report.Anomalies[0].Day != "15" {
			t.Fatalf("expected only day 15 flagged, got %+v", report.Anomalies)
		}
	})

	t.Run("GetReportAfterScan", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/anomalies/2025/9", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var report domain.AnomalyReport
		if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
			t.Fatalf("failed to parse report: %v", err)
		}
		if len(report.Anomalies) != 1 {
			t.Errorf("expected stored report with 1 anomaly, got %d", len(report.Anomalies))
		}
	})

	t.Run("ReportNotFound", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/anomalies/1999/1", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestCohortEndpoint(t *testing.T) {
	server := createTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/cohort", CohortRequest{
		Profile: domain.BehaviorProfile{
			Region:     "us",
			Income:     4500,
			Behavior:   domain.BehaviorImpulsive,
			Categories: []string{"coffee", "shopping", "rent"},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	want := "us:mid:spender:challenge-prone"
	if resp["cohort"] != want {
		t.Errorf("expected cohort %q, got %q", want, resp["cohort"])
	}
}

func TestConfigEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("ListConfigs", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/configs", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 loaded config, got %d", resp.Count)
		}
	})

	t.Run("GetConfig", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/configs/default", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		rr = doJSON(t, server, http.MethodGet, "/configs/missing", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("CreateAndReload", func(t *testing.T) {
		cfg := testPlanConfig()
		cfg.ID = "weekend-heavy"
		cfg.Name = "Weekend Heavy"

		rr := doJSON(t, server, http.MethodPost, "/configs", cfg)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doJSON(t, server, http.MethodPost, "/configs/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("reload failed: %d: %s", rr.Code, rr.Body.String())
		}

		rr = doJSON(t, server, http.MethodGet, "/configs/weekend-heavy", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected reloaded config to be retrievable, got %d", rr.Code)
		}
	})

	t.Run("CreateRejectsInvalidConfig", func(t *testing.T) {
		cfg := testPlanConfig()
		cfg.ID = "broken"
		cfg.BiasCurves = map[string][]float64{"groceries": {1, 1}}

		rr := doJSON(t, server, http.MethodPost, "/configs", cfg)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateRejectsBadGuard", func(t *testing.T) {
		cfg := testPlanConfig()
		cfg.ID = "bad-guard"
		cfg.Behaviors = map[string]domain.BehaviorBoost{
			"impulsive": {Factor: 1.5, Categories: []string{"shopping"}, Guard: "income +"},
		}

		rr := doJSON(t, server, http.MethodPost, "/configs", cfg)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("DeleteConfig", func(t *testing.T) {
		cfg := testPlanConfig()
		cfg.ID = "doomed"
		cfg.Name = "Doomed"

		rr := doJSON(t, server, http.MethodPost, "/configs", cfg)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create failed: %d", rr.Code)
		}

		rr = doJSON(t, server, http.MethodDelete, "/configs/doomed", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doJSON(t, server, http.MethodDelete, fmt.Sprintf("/configs/%s", "nonexistent"), nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestPlanRateLimit(t *testing.T) {
	server := createTestServerCfg(t, domain.ServerConfig{
		Host:          "localhost",
		Port:          8080,
		ReadTimeout:   30,
		WriteTimeout:  30,
		PlanRateLimit: 2,
	})

	planReq := PlanRequest{
		Year:   2025,
		Month:  5,
		Budget: 1000,
	}

	for i := 1; i <= 2; i++ {
		rr := doJSON(t, server, http.MethodPost, "/plans", planReq)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d: %s", i, rr.Code, rr.Body.String())
		}
	}

	rr := doJSON(t, server, http.MethodPost, "/plans", planReq)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 over the limit, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
