// Benchmark tool for testing Weaver's anomaly detection on synthetic spend data.
//
// Usage:
//
//	go run cmd/benchmark/main.go -months 120 -url http://localhost:8080
//
// This tool:
//  1. Synthesizes months of daily spending totals with injected spike days
//  2. Records every daily total through POST /actuals
//  3. Scans each month through POST /anomalies/scan
//  4. Compares flagged days with the injected spikes
//  5. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// SyntheticMonth is one generated month of daily totals with known spikes.
type SyntheticMonth struct {
	Year      int
	Month     int
	Totals    []float64    // index 0 = day 1
	SpikeDays map[int]bool // injected anomalies
}

// ActualRequest is the Weaver API request format for recording a daily total.
type ActualRequest struct {
	Year  int     `json:"year"`
	Month int     `json:"month"`
	Day   int     `json:"day"`
	Total float64 `json:"total"`
}

// ScanRequest is the Weaver API request format for an anomaly scan.
type ScanRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// ScanResponse is the Weaver API response format.
type ScanResponse struct {
	SampleLen int `json:"sampleLen"`
	Anomalies []struct {
		Day       string  `json:"day"`
		Observed  float64 `json:"observed"`
		Threshold float64 `json:"threshold"`
	} `json:"anomalies"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Spike day flagged
	FalsePositives int64 // Quiet day flagged
	TrueNegatives  int64 // Quiet day not flagged
	FalseNegatives int64 // Spike day missed

	MonthsProcessed int64
	TotalSpikes     int64
	TotalErrors     int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	baseURL := flag.String("url", "http://localhost:8080", "Weaver base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	months := flag.Int("months", 60, "Number of synthetic months to generate")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	spikeRate := flag.Float64("spike-rate", 0.05, "Probability a day carries an injected spike")
	spikeScale := flag.Float64("spike-scale", 8.0, "Spike magnitude as a multiple of the daily mean")
	seed := flag.Int64("seed", 42, "Random seed for reproducible runs")
	verbose := flag.Bool("verbose", false, "Print each month's result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        WEAVER BENCHMARK - Spending Anomaly Detection          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nWeaver URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Months:      %d\n", *months)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Spike Rate:  %.2f\n", *spikeRate)
	fmt.Printf("Spike Scale: %.1fx\n", *spikeScale)
	fmt.Println()

	// Check Weaver is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Weaver not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Weaver is running:")
		fmt.Println("  cd weaver && go run cmd/weaver/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Weaver is healthy")

	// Generate synthetic data
	fmt.Printf("\nGenerating %d synthetic months...\n", *months)
	data := generateMonths(*months, *spikeRate, *spikeScale, *seed)

	spikeCount := 0
	dayCount := 0
	for _, m := range data {
		spikeCount += len(m.SpikeDays)
		dayCount += len(m.Totals)
	}
	fmt.Printf("✓ Generated %d days (%d injected spikes, %.2f%%)\n",
		dayCount, spikeCount, 100*float64(spikeCount)/float64(dayCount))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(data, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generateMonths builds reproducible synthetic months: a baseline spend with
// mild weekday noise, plus rare large spikes whose positions are recorded as
// ground truth. Each month lands on a distinct (year, month) so scans do not
// overlap.
func generateMonths(count int, spikeRate, spikeScale float64, seed int64) []SyntheticMonth {
	rng := rand.New(rand.NewSource(seed))

	months := make([]SyntheticMonth, 0, count)
	year, month := 2000, 1

	for i := 0; i < count; i++ {
		days := daysIn(year, month)
		baseline := 20.0 + rng.Float64()*40.0

		m := SyntheticMonth{
			Year:      year,
			Month:     month,
			Totals:    make([]float64, days),
			SpikeDays: make(map[int]bool),
		}

		for d := 0; d < days; d++ {
			total := baseline * (0.8 + 0.4*rng.Float64())
			if rng.Float64() < spikeRate {
				total = baseline * spikeScale * (0.9 + 0.2*rng.Float64())
				m.SpikeDays[d+1] = true
			}
			m.Totals[d] = float64(int(total*100)) / 100
		}

		months = append(months, m)

		month++
		if month > 12 {
			month = 1
			year++
		}
	}

	return months
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func runBenchmark(data []SyntheticMonth, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan SyntheticMonth, 10)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for m := range work {
				start := time.Now()
				flagged, err := scanMonth(client, baseURL, tenantID, m)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.MonthsProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %d-%02d -> %v\n", m.Year, m.Month, err)
					}
					continue
				}

				atomic.AddInt64(&metrics.TotalSpikes, int64(len(m.SpikeDays)))

				var tp, fp, tn, fn int64
				for day := 1; day <= len(m.Totals); day++ {
					predicted := flagged[day]
					actual := m.SpikeDays[day]

					switch {
					case predicted && actual:
						tp++
					case predicted && !actual:
						fp++
					case !predicted && !actual:
						tn++
					default:
						fn++
					}
				}

				atomic.AddInt64(&metrics.TruePositives, tp)
				atomic.AddInt64(&metrics.FalsePositives, fp)
				atomic.AddInt64(&metrics.TrueNegatives, tn)
				atomic.AddInt64(&metrics.FalseNegatives, fn)

				if verbose {
					status := "✓"
					if fp > 0 || fn > 0 {
						status = "✗"
					}
					fmt.Printf("%s %d-%02d | Spikes: %2d | Flagged: %2d | TP: %2d FP: %2d FN: %2d | %dms\n",
						status, m.Year, m.Month, len(m.SpikeDays), len(flagged), tp, fp, fn, elapsed)
				}
			}
		}()
	}

	for _, m := range data {
		work <- m
	}
	close(work)

	wg.Wait()

	return metrics
}

// scanMonth records every daily total, triggers a scan, and returns the set
// of flagged days.
func scanMonth(client *http.Client, baseURL, tenantID string, m SyntheticMonth) (map[int]bool, error) {
	for day := 1; day <= len(m.Totals); day++ {
		req := ActualRequest{
			Year:  m.Year,
			Month: m.Month,
			Day:   day,
			Total: m.Totals[day-1],
		}
		if err := postJSON(client, baseURL+"/actuals", tenantID, req, http.StatusCreated, nil); err != nil {
			return nil, fmt.Errorf("record day %d: %w", day, err)
		}
	}

	var scan ScanResponse
	req := ScanRequest{Year: m.Year, Month: m.Month}
	if err := postJSON(client, baseURL+"/anomalies/scan", tenantID, req, http.StatusOK, &scan); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	flagged := make(map[int]bool, len(scan.Anomalies))
	for _, a := range scan.Anomalies {
		if day, err := strconv.Atoi(a.Day); err == nil {
			flagged[day] = true
		}
	}

	return flagged, nil
}

func postJSON(client *http.Client, url, tenantID string, body any, wantStatus int, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Months Processed: %d\n", m.MonthsProcessed)
	fmt.Printf("   Injected Spikes:  %d\n", m.TotalSpikes)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  Flagged      Quiet")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  S  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           Q  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged days, how many were real spikes)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of spikes, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.MonthsProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.MonthsProcessed)
		mps := float64(m.MonthsProcessed) / duration.Seconds()
		fmt.Printf("   Avg Month:        %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f months/sec\n", mps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most spikes")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some spikes")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant spikes being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most spikes are being missed!")
	}
	if precision < 0.5 && m.TruePositives+m.FalsePositives > 0 {
		fmt.Println("   ⚠️  Low precision - consider raising the anomaly K")
	}
}
