// Package domain defines the core interfaces and types for Weaver.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID so stored data stays scoped per user.
type Repository interface {
	// Calendar operations
	SaveCalendar(ctx context.Context, tenantID string, cal *MonthlyCalendar) error
	GetCalendar(ctx context.Context, tenantID string, year, month int) (*MonthlyCalendar, error)

	// Actual spend operations
	SaveActual(ctx context.Context, tenantID string, actual *DailyActual) error
	ListActuals(ctx context.Context, tenantID string, year, month int) ([]*DailyActual, error)

	// Plan configuration operations
	SavePlanConfig(ctx context.Context, tenantID string, cfg *PlanConfig) error
	GetPlanConfig(ctx context.Context, tenantID string, configID string) (*PlanConfig, error)
	ListPlanConfigs(ctx context.Context, tenantID string) ([]*PlanConfig, error)
	DeletePlanConfig(ctx context.Context, tenantID string, configID string) error

	// Anomaly reports
	SaveAnomalyReport(ctx context.Context, tenantID string, report *AnomalyReport) error
	GetAnomalyReport(ctx context.Context, tenantID string, year, month int) (*AnomalyReport, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
