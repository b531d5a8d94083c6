package repository

// Schema definitions for the Weaver database.
// Compatible with both SQLite and PostgreSQL.

const schemaCalendars = `
CREATE TABLE IF NOT EXISTS calendars (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    month INTEGER NOT NULL,
    behavior TEXT NOT NULL,
    config_id TEXT NOT NULL,
    budget REAL NOT NULL,
    days TEXT NOT NULL,
    generated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, year, month)
);

CREATE INDEX IF NOT EXISTS idx_calendars_tenant ON calendars(tenant_id);
CREATE INDEX IF NOT EXISTS idx_calendars_config ON calendars(tenant_id, config_id);
`

const schemaActuals = `
CREATE TABLE IF NOT EXISTS actuals (
    tenant_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    month INTEGER NOT NULL,
    day INTEGER NOT NULL,
    total REAL NOT NULL,
    categories TEXT,
    recorded_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, year, month, day)
);

CREATE INDEX IF NOT EXISTS idx_actuals_month ON actuals(tenant_id, year, month);
`

const schemaPlanConfigs = `
CREATE TABLE IF NOT EXISTS plan_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    payload TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_plan_configs_tenant ON plan_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_plan_configs_enabled ON plan_configs(tenant_id, enabled);
`

const schemaAnomalyReports = `
CREATE TABLE IF NOT EXISTS anomaly_reports (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    month INTEGER NOT NULL,
    k REAL NOT NULL,
    sample_len INTEGER NOT NULL,
    anomalies TEXT NOT NULL,
    scanned_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, year, month)
);

CREATE INDEX IF NOT EXISTS idx_anomaly_reports_tenant ON anomaly_reports(tenant_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCalendars,
		schemaActuals,
		schemaPlanConfigs,
		schemaAnomalyReports,
	}
}
