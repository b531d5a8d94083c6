//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Weaver budget engine.
//
// These tests verify the COMPLETE planning pipeline:
//
//	Config → Plan → Calendar → Actuals → Anomaly Scan → Report
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
//  1. PLAN CONFIG: the weight table and behavior settings for a tenant.
//     Weights set each category's share of the budget, Behaviors carry
//     boost factors for a behavior tag (e.g. "impulsive"), BiasCurves are
//     weekday multipliers (Mon..Sun) shaping when money lands, and
//     Cooldowns set the minimum day-gap between allocations to a category.
//
//  2. CALENDAR: one generated month. Every day carries per-category
//     amounts and the day totals sum back to the requested budget.
//
//  3. ACTUAL: a realized daily spending total recorded after the fact.
//
//  4. ANOMALY SCAN: mean + k*stdev over the month's positive totals.
//     Days above the threshold are flagged in the report.
//
// REQUIRED SETUP: A running Weaver instance (community tier is fine):
//
//	go run cmd/weaver/main.go
//
// The suite seeds its own plan config through POST /configs, so a fresh
// database works.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("WEAVER_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "test-tenant",
	}
}

// ============================================================================
// API Request/Response Types (matching Weaver's API contract)
// ============================================================================

type PlanRequest struct {
	Year     int     `json:"year"`
	Month    int     `json:"month"`
	Budget   float64 `json:"budget"`
	ConfigID string  `json:"configId,omitempty"`
	Profile  Profile `json:"profile"`
}

type Profile struct {
	Behavior   string   `json:"behavior,omitempty"`
	Income     float64  `json:"income,omitempty"`
	Region     string   `json:"region,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

type Calendar struct {
	ID       string  `json:"id"`
	Year     int     `json:"year"`
	Month    int     `json:"month"`
	Budget   float64 `json:"budget"`
	Behavior string  `json:"behavior"`
	Days     []struct {
		Day     int                `json:"day"`
		Weekday int                `json:"weekday"` // Monday=0
		Total   float64            `json:"total"`
		Amounts map[string]float64 `json:"amounts"`
	} `json:"days"`
}

type ActualRequest struct {
	Year  int     `json:"year"`
	Month int     `json:"month"`
	Day   int     `json:"day"`
	Total float64 `json:"total"`
}

type ScanRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

type AnomalyReport struct {
	ID        string  `json:"id"`
	Year      int     `json:"year"`
	Month     int     `json:"month"`
	K         float64 `json:"k"`
	SampleLen int     `json:"sampleLen"`
	Anomalies []struct {
		Day       string  `json:"day"`
		Observed  float64 `json:"observed"`
		Threshold float64 `json:"threshold"`
	} `json:"anomalies"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func doRequest(t *testing.T, config TestConfig, method, path string, body any, wantStatus int, out any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != wantStatus {
		t.Fatalf("Expected status %d, got %d: %s", wantStatus, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
}

// seedConfig creates the plan config the scenarios depend on and hot-reloads
// the registry. Safe to call repeatedly.
func seedConfig(t *testing.T, config TestConfig) {
	t.Helper()

	planConfig := map[string]any{
		"id":      "integration-default",
		"name":    "Integration Default",
		"version": "1.0.0",
		"weights": map[string]float64{
			"groceries":     0.30,
			"rent":          0.35,
			"entertainment": 0.15,
			"shopping":      0.10,
			"savings":       0.10,
		},
		"behaviors": map[string]any{
			"impulsive": map[string]any{
				"factor":     1.5,
				"categories": []string{"entertainment", "shopping"},
			},
		},
		"biasCurves": map[string][]float64{
			"entertainment": {0.5, 0.5, 0.5, 0.5, 1.5, 2.0, 2.0},
		},
		"defaultCurve": []float64{1, 1, 1, 1, 1, 1, 1},
		"cooldowns":    map[string]int{"shopping": 7},
		"anomalyK":     2.5,
		"cohort": map[string]float64{
			"highIncome": 7000,
			"midIncome":  3000,
		},
		"enabled": true,
	}

	doRequest(t, config, "POST", "/configs", planConfig, http.StatusCreated, nil)
	doRequest(t, config, "POST", "/configs/reload", nil, http.StatusOK, nil)
}

// ============================================================================
// SCENARIO 1: Plan Generation (Calendar Shape and Conservation)
// ============================================================================

func TestGeneratePlan_BudgetConserved(t *testing.T) {
	/*
	   SCENARIO: Generate a March calendar for a $2,500 budget

	   EXPECTED BEHAVIOR:
	   - 31 days, each with per-category amounts
	   - Day totals sum back to the budget (rounding drift under a cent
	     per category)
	   - Behavior tag from the profile carried through to the calendar
	*/
	config := getTestConfig()
	seedConfig(t, config)

	var cal Calendar
	doRequest(t, config, "POST", "/plans", PlanRequest{
		Year:     2025,
		Month:    3,
		Budget:   2500,
		ConfigID: "integration-default",
		Profile:  Profile{Behavior: "impulsive", Income: 4500},
	}, http.StatusOK, &cal)

	if len(cal.Days) != 31 {
		t.Fatalf("Expected 31 days for March, got %d", len(cal.Days))
	}

	var total float64
	for _, d := range cal.Days {
		total += d.Total
	}
	if diff := total - 2500; diff > 0.10 || diff < -0.10 {
		t.Errorf("Day totals %.2f drifted from budget 2500", total)
	}

	if cal.Behavior != "impulsive" {
		t.Errorf("Expected behavior carried through, got %q", cal.Behavior)
	}

	t.Logf("✓ Calendar generated: %d days, total=%.2f", len(cal.Days), total)
}

// ============================================================================
// SCENARIO 2: Weekend Bias
// ============================================================================

func TestGeneratePlan_WeekendBias(t *testing.T) {
	/*
	   SCENARIO: The entertainment bias curve weights weekends at 2.0 and
	   weekdays at 0.5.

	   EXPECTED BEHAVIOR:
	   Entertainment money lands mostly on Fri/Sat/Sun. Summed weekend
	   entertainment should clearly exceed summed Mon-Thu entertainment.
	*/
	config := getTestConfig()
	seedConfig(t, config)

	var cal Calendar
	doRequest(t, config, "POST", "/plans", PlanRequest{
		Year:     2025,
		Month:    6,
		Budget:   3000,
		ConfigID: "integration-default",
	}, http.StatusOK, &cal)

	var weekend, weekday float64
	for _, d := range cal.Days {
		amount := d.Amounts["entertainment"]
		if d.Weekday >= 4 { // Friday, Saturday, Sunday
			weekend += amount
		} else {
			weekday += amount
		}
	}

	if weekend <= weekday {
		t.Errorf("Expected weekend entertainment (%.2f) above weekday (%.2f)", weekend, weekday)
	}

	t.Logf("✓ Weekend bias holds: weekend=%.2f, weekday=%.2f", weekend, weekday)
}

// ============================================================================
// SCENARIO 3: Calendar Retrieval
// ============================================================================

func TestCalendarRoundTrip(t *testing.T) {
	/*
	   SCENARIO: A generated calendar is retrievable by year/month.

	   The GET path is served from cache when warm and falls back to the
	   database, so this also exercises the two read paths.
	*/
	config := getTestConfig()
	seedConfig(t, config)

	doRequest(t, config, "POST", "/plans", PlanRequest{
		Year:     2025,
		Month:    7,
		Budget:   1800,
		ConfigID: "integration-default",
	}, http.StatusOK, nil)

	var cal Calendar
	doRequest(t, config, "GET", "/calendars/2025/7", nil, http.StatusOK, &cal)

	if cal.Year != 2025 || cal.Month != 7 {
		t.Errorf("Expected 2025-07 calendar, got %d-%02d", cal.Year, cal.Month)
	}
	if cal.Budget != 1800 {
		t.Errorf("Expected budget 1800, got %.2f", cal.Budget)
	}

	t.Logf("✓ Calendar round trip: id=%s", cal.ID)
}

// ============================================================================
// SCENARIO 4: Actuals and Anomaly Detection
// ============================================================================

func TestAnomalyScan_FlagsSpike(t *testing.T) {
	/*
	   SCENARIO: A month of steady ~$40/day spending with one $900 day.

	   EXPECTED BEHAVIOR:
	   - All 30 days recorded through POST /actuals
	   - POST /anomalies/scan computes mean + 2.5*stdev over the month
	   - The $900 day (and only that day) is flagged
	   - The report is persisted and retrievable
	*/
	config := getTestConfig()
	seedConfig(t, config)

	for day := 1; day <= 30; day++ {
		total := 40.0 + float64(day%5)
		if day == 18 {
			total = 900.0
		}
		doRequest(t, config, "POST", "/actuals", ActualRequest{
			Year:  2025,
			Month: 9,
			Day:   day,
			Total: total,
		}, http.StatusCreated, nil)
	}

	var report AnomalyReport
	doRequest(t, config, "POST", "/anomalies/scan", ScanRequest{
		Year:  2025,
		Month: 9,
	}, http.StatusOK, &report)

	if report.SampleLen != 30 {
		t.Errorf("Expected sample of 30 days, got %d", report.SampleLen)
	}
	if len(report.Anomalies) != 1 {
		t.Fatalf("Expected exactly 1 anomaly, got %d", len(report.Anomalies))
	}
	if report.Anomalies[0].Day != "18" {
		t.Errorf("Expected day 18 flagged, got %s", report.Anomalies[0].Day)
	}
	if report.Anomalies[0].Observed != 900.0 {
		t.Errorf("Expected observed 900, got %.2f", report.Anomalies[0].Observed)
	}

	var stored AnomalyReport
	doRequest(t, config, "GET", "/anomalies/2025/9", nil, http.StatusOK, &stored)
	if stored.ID != report.ID {
		t.Errorf("Stored report %s does not match scan result %s", stored.ID, report.ID)
	}

	t.Logf("✓ Spike flagged: day=%s, observed=%.2f, threshold=%.2f",
		report.Anomalies[0].Day, report.Anomalies[0].Observed, report.Anomalies[0].Threshold)
}

func TestAnomalyScan_QuietMonth(t *testing.T) {
	/*
	   SCENARIO: A month with no unusual days.

	   EXPECTED BEHAVIOR: Scan succeeds with an empty anomaly list.
	*/
	config := getTestConfig()
	seedConfig(t, config)

	for day := 1; day <= 28; day++ {
		doRequest(t, config, "POST", "/actuals", ActualRequest{
			Year:  2025,
			Month: 2,
			Day:   day,
			Total: 35.0 + float64(day%3),
		}, http.StatusCreated, nil)
	}

	var report AnomalyReport
	doRequest(t, config, "POST", "/anomalies/scan", ScanRequest{
		Year:  2025,
		Month: 2,
	}, http.StatusOK, &report)

	if len(report.Anomalies) != 0 {
		t.Errorf("Expected no anomalies for quiet month, got %d", len(report.Anomalies))
	}

	t.Logf("✓ Quiet month clean: sample=%d", report.SampleLen)
}

// ============================================================================
// SCENARIO 5: Cohort Classification
// ============================================================================

func TestCohortClassification(t *testing.T) {
	/*
	   SCENARIO: Classify a mid-income impulsive profile.

	   EXPECTED BEHAVIOR: The cohort string follows
	   region:incomeBand:style:behaviorTag with mid band for $4,500 income
	   (between the 3,000 and 7,000 thresholds).
	*/
	config := getTestConfig()
	seedConfig(t, config)

	var resp map[string]string
	doRequest(t, config, "POST", "/cohort", map[string]any{
		"configId": "integration-default",
		"profile": Profile{
			Behavior:   "impulsive",
			Income:     4500,
			Region:     "us",
			Categories: []string{"entertainment"},
		},
	}, http.StatusOK, &resp)

	expected := "us:mid:spender:challenge-prone"
	if resp["cohort"] != expected {
		t.Errorf("Expected cohort %q, got %q", expected, resp["cohort"])
	}

	t.Logf("✓ Cohort: %s", resp["cohort"])
}

// ============================================================================
// SCENARIO 6: Input Validation
// ============================================================================

func TestValidation(t *testing.T) {
	config := getTestConfig()
	seedConfig(t, config)

	t.Run("InvalidMonth", func(t *testing.T) {
		doRequest(t, config, "POST", "/plans", PlanRequest{
			Year:   2025,
			Month:  13,
			Budget: 1000,
		}, http.StatusBadRequest, nil)
	})

	t.Run("NonPositiveBudget", func(t *testing.T) {
		doRequest(t, config, "POST", "/plans", PlanRequest{
			Year:   2025,
			Month:  4,
			Budget: 0,
		}, http.StatusBadRequest, nil)
	})

	t.Run("DayOutOfRange", func(t *testing.T) {
		// June has 30 days
		doRequest(t, config, "POST", "/actuals", ActualRequest{
			Year:  2025,
			Month: 6,
			Day:   31,
			Total: 10,
		}, http.StatusBadRequest, nil)
	})

	t.Run("UnknownConfig", func(t *testing.T) {
		doRequest(t, config, "POST", "/plans", PlanRequest{
			Year:     2025,
			Month:    4,
			Budget:   1000,
			ConfigID: "no-such-config",
		}, http.StatusNotFound, nil)
	})

	t.Run("MissingTenantHeader", func(t *testing.T) {
		payload, _ := json.Marshal(PlanRequest{Year: 2025, Month: 4, Budget: 1000})
		httpReq, _ := http.NewRequest("POST", config.BaseURL+"/plans", bytes.NewReader(payload))
		httpReq.Header.Set("Content-Type", "application/json")
		// NO X-Tenant-ID header!

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(httpReq)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for missing tenant, got %d", resp.StatusCode)
		}
	})
}

// ============================================================================
// SCENARIO 7: Behavior Adjustment Shifts Allocation
// ============================================================================

func TestBehaviorShiftsAllocation(t *testing.T) {
	/*
	   SCENARIO: Same budget, same config, impulsive vs untagged profile.

	   EXPECTED BEHAVIOR: The impulsive boost (factor 1.5 on entertainment
	   and shopping) gives those categories a larger share of the month.
	*/
	config := getTestConfig()
	seedConfig(t, config)

	monthShare := func(month int, behavior string) float64 {
		var cal Calendar
		doRequest(t, config, "POST", "/plans", PlanRequest{
			Year:     2026,
			Month:    month,
			Budget:   2000,
			ConfigID: "integration-default",
			Profile:  Profile{Behavior: behavior},
		}, http.StatusOK, &cal)

		var fun float64
		for _, d := range cal.Days {
			fun += d.Amounts["entertainment"] + d.Amounts["shopping"]
		}
		return fun
	}

	plain := monthShare(1, "")
	boosted := monthShare(2, "impulsive")

	if boosted <= plain {
		t.Errorf("Expected impulsive boost to raise fun spend: plain=%.2f, boosted=%.2f", plain, boosted)
	}

	t.Logf("✓ Behavior boost: plain=%.2f, boosted=%.2f", plain, boosted)
}

// ============================================================================
// SCENARIO 8: Response Metadata Verification
// ============================================================================

func TestResponseContract(t *testing.T) {
	/*
	   SCENARIO: Verify the calendar response carries the fields clients
	   depend on. This keeps the API contract stable.
	*/
	config := getTestConfig()
	seedConfig(t, config)

	var cal Calendar
	doRequest(t, config, "POST", "/plans", PlanRequest{
		Year:     2026,
		Month:    3,
		Budget:   1500,
		ConfigID: "integration-default",
	}, http.StatusOK, &cal)

	if cal.ID == "" {
		t.Error("Missing calendar id")
	}
	if cal.Year != 2026 || cal.Month != 3 {
		t.Errorf("Wrong period: %d-%02d", cal.Year, cal.Month)
	}
	for i, d := range cal.Days {
		if d.Day != i+1 {
			t.Fatalf("Day %d out of order (got %d)", i+1, d.Day)
		}
		if d.Weekday < 0 || d.Weekday > 6 {
			t.Fatalf("Day %d has weekday %d out of range", d.Day, d.Weekday)
		}
		if len(d.Amounts) == 0 && d.Total > 0 {
			t.Fatalf("Day %d has total %.2f but no category amounts", d.Day, d.Total)
		}
	}

	t.Logf("✓ Contract stable: id=%s, days=%d", cal.ID[:8], len(cal.Days))
}
