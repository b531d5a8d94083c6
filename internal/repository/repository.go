// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/weaver/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCalendar stores a generated monthly calendar, replacing any previous
// plan for the same (tenant, year, month).
func (r *SQLRepository) SaveCalendar(ctx context.Context, tenantID string, cal *domain.MonthlyCalendar) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	days, _ := json.Marshal(cal.Days)

	query := `
		INSERT INTO calendars (
			id, tenant_id, year, month, behavior, config_id, budget, days, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, year, month) DO UPDATE SET
			id = excluded.id,
			behavior = excluded.behavior,
			config_id = excluded.config_id,
			budget = excluded.budget,
			days = excluded.days,
			generated_at = excluded.generated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cal.ID, tenantID, cal.Year, cal.Month,
		cal.Behavior, cal.ConfigID, cal.Budget,
		string(days), cal.GeneratedAt,
	)
	return err
}

// GetCalendar retrieves the stored calendar for a (tenant, year, month).
func (r *SQLRepository) GetCalendar(ctx context.Context, tenantID string, year, month int) (*domain.MonthlyCalendar, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, year, month, behavior, config_id, budget, days, generated_at
		FROM calendars
		WHERE tenant_id = ? AND year = ? AND month = ?
	`

	var cal domain.MonthlyCalendar
	var days string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, year, month).Scan(
		&cal.ID, &cal.TenantID, &cal.Year, &cal.Month,
		&cal.Behavior, &cal.ConfigID, &cal.Budget,
		&days, &cal.GeneratedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(days), &cal.Days); err != nil {
		return nil, fmt.Errorf("failed to parse calendar days: %w", err)
	}

	return &cal, nil
}

// SaveActual records a realized daily total, replacing any previous record
// for the same day.
func (r *SQLRepository) SaveActual(ctx context.Context, tenantID string, actual *domain.DailyActual) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	categories, _ := json.Marshal(actual.Categories)

	query := `
		INSERT INTO actuals (
			tenant_id, year, month, day, total, categories, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, year, month, day) DO UPDATE SET
			total = excluded.total,
			categories = excluded.categories,
			recorded_at = excluded.recorded_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, actual.Year, actual.Month, actual.Day,
		actual.Total, string(categories), actual.RecordedAt,
	)
	return err
}

// ListActuals retrieves a month of realized daily totals in day order.
func (r *SQLRepository) ListActuals(ctx context.Context, tenantID string, year, month int) ([]*domain.DailyActual, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, year, month, day, total, categories, recorded_at
		FROM actuals
		WHERE tenant_id = ? AND year = ? AND month = ?
		ORDER BY day
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, year, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actuals []*domain.DailyActual
	for rows.Next() {
		var a domain.DailyActual
		var categories sql.NullString

		if err := rows.Scan(
			&a.TenantID, &a.Year, &a.Month, &a.Day,
			&a.Total, &categories, &a.RecordedAt,
		); err != nil {
			return nil, err
		}

		if categories.Valid && categories.String != "" {
			json.Unmarshal([]byte(categories.String), &a.Categories)
		}

		actuals = append(actuals, &a)
	}

	return actuals, rows.Err()
}

// SavePlanConfig stores a plan configuration.
func (r *SQLRepository) SavePlanConfig(ctx context.Context, tenantID string, cfg *domain.PlanConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode plan config: %w", err)
	}

	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO plan_configs (
			id, tenant_id, name, description, version, payload, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			payload = excluded.payload,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		cfg.ID, tenantID, cfg.Name, cfg.Description,
		cfg.Version, string(payload), enabled,
		now, now,
	)
	return err
}

// GetPlanConfig retrieves the latest enabled version of a plan config.
func (r *SQLRepository) GetPlanConfig(ctx context.Context, tenantID string, configID string) (*domain.PlanConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT payload, enabled
		FROM plan_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var payload string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, configID).Scan(&payload, &enabled)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var cfg domain.PlanConfig
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse plan config: %w", err)
	}
	cfg.Enabled = enabled == 1

	return &cfg, nil
}

// ListPlanConfigs retrieves all enabled plan configs for a tenant.
func (r *SQLRepository) ListPlanConfigs(ctx context.Context, tenantID string) ([]*domain.PlanConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT payload, enabled
		FROM plan_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.PlanConfig
	for rows.Next() {
		var payload string
		var enabled int

		if err := rows.Scan(&payload, &enabled); err != nil {
			return nil, err
		}

		var cfg domain.PlanConfig
		if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse plan config: %w", err)
		}
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// DeletePlanConfig soft-deletes a plan config by setting enabled = 0.
func (r *SQLRepository) DeletePlanConfig(ctx context.Context, tenantID string, configID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE plan_configs
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, configID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveAnomalyReport stores a scan result, replacing any previous report for
// the same (tenant, year, month).
func (r *SQLRepository) SaveAnomalyReport(ctx context.Context, tenantID string, report *domain.AnomalyReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	anomalies, _ := json.Marshal(report.Anomalies)

	query := `
		INSERT INTO anomaly_reports (
			id, tenant_id, year, month, k, sample_len, anomalies, scanned_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, year, month) DO UPDATE SET
			id = excluded.id,
			k = excluded.k,
			sample_len = excluded.sample_len,
			anomalies = excluded.anomalies,
			scanned_at = excluded.scanned_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, report.Year, report.Month,
		report.K, report.SampleLen, string(anomalies), report.ScannedAt,
	)
	return err
}

// GetAnomalyReport retrieves the latest report for a (tenant, year, month).
func (r *SQLRepository) GetAnomalyReport(ctx context.Context, tenantID string, year, month int) (*domain.AnomalyReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, year, month, k, sample_len, anomalies, scanned_at
		FROM anomaly_reports
		WHERE tenant_id = ? AND year = ? AND month = ?
	`

	var report domain.AnomalyReport
	var anomalies string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, year, month).Scan(
		&report.ID, &report.TenantID, &report.Year, &report.Month,
		&report.K, &report.SampleLen, &anomalies, &report.ScannedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(anomalies), &report.Anomalies); err != nil {
		return nil, fmt.Errorf("failed to parse anomalies: %w", err)
	}

	return &report, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
