package domain

import "time"

// Anomaly flags one day whose observed total exceeded the statistical
// threshold. Observed and Threshold are rounded to 2 decimal places.
type Anomaly struct {
	Day       string  `json:"day"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
}

// AnomalyReport is the persisted result of one detector run over a month
// of actual daily totals.
type AnomalyReport struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`

	K         float64   `json:"k"`
	SampleLen int       `json:"sampleLen"` // positive-total days in the sample
	Anomalies []Anomaly `json:"anomalies"`

	ScannedAt time.Time `json:"scannedAt"`
}

// Flagged reports whether the scan produced any anomalies.
func (r *AnomalyReport) Flagged() bool {
	return len(r.Anomalies) > 0
}
