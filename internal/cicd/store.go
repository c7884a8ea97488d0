package cicd

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/toolerr"
	"github.com/kbsearch/backend/pkg/logger"
)

var forbiddenSQL = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|replace|attach|detach|pragma|vacuum)\b`)

// Store is the CI/CD deployment database the NL2SQL side queries. Generated
// SQL runs through RunQuery, which only admits single SELECT statements.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cicd database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("CI/CD store initialized", zap.String("path", dbPath))

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deployment_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_name TEXT NOT NULL,
		deploy_env TEXT NOT NULL,
		status TEXT NOT NULL,
		version TEXT,
		duration_sec INTEGER,
		triggered_by TEXT,
		date TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deploy_app ON deployment_data(app_name);
	CREATE INDEX IF NOT EXISTS idx_deploy_env ON deployment_data(deploy_env);
	CREATE INDEX IF NOT EXISTS idx_deploy_date ON deployment_data(date);

	CREATE TABLE IF NOT EXISTS test_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_name TEXT NOT NULL,
		suite TEXT,
		passed INTEGER,
		failed INTEGER,
		duration_sec INTEGER,
		date TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tests_app ON test_runs(app_name);
	CREATE INDEX IF NOT EXISTS idx_tests_date ON test_runs(date);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize cicd schema: %w", err)
	}

	logger.Info("CI/CD schema initialized")
	return nil
}

// SchemaContext is the schema description handed to the SQL-generating
// caller on a cache miss.
func (s *Store) SchemaContext() string {
	return `Database: cicd_service (SQLite dialect)

Table deployment_data:
  id INTEGER PRIMARY KEY
  app_name TEXT        -- application name, e.g. 'frontend', 'api-gateway'
  deploy_env TEXT      -- one of 'PROD', 'STAGING', 'DEV'
  status TEXT          -- 'SUCCESS' or 'FAILED'
  version TEXT
  duration_sec INTEGER
  triggered_by TEXT
  date TEXT            -- ISO 8601, e.g. '2026-08-30T14:05:00Z'

Table test_runs:
  id INTEGER PRIMARY KEY
  app_name TEXT
  suite TEXT
  passed INTEGER
  failed INTEGER
  duration_sec INTEGER
  date TEXT

Only SELECT statements are executed. Order recent-first with ORDER BY date DESC.`
}

func (s *Store) KnownApps() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT app_name FROM deployment_data ORDER BY app_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	var apps []string
	for rows.Next() {
		var app string
		if err := rows.Scan(&app); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		apps = append(apps, app)
	}

	return apps, rows.Err()
}

// ValidateSQL admits exactly one SELECT statement and nothing else.
func ValidateSQL(sqlText string) error {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"))
	if trimmed == "" {
		return toolerr.NewValidation("sql", "query is empty")
	}
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return toolerr.NewValidation("sql", "only SELECT statements are allowed")
	}
	if strings.Contains(trimmed, ";") {
		return toolerr.NewValidation("sql", "multiple statements are not allowed")
	}
	if forbiddenSQL.MatchString(trimmed) {
		return toolerr.NewValidation("sql", "statement contains a forbidden keyword")
	}
	return nil
}

// RunQuery executes a validated SELECT and returns rows as column→value maps.
func (s *Store) RunQuery(ctx context.Context, sqlText string) ([]map[string]interface{}, error) {
	if err := ValidateSQL(sqlText); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	logger.Debug("CI/CD query executed",
		zap.Int("rows", len(results)),
	)

	return results, nil
}

// InsertTestRun exists for seeding and tests.
func (s *Store) InsertTestRun(app, suite string, passed, failed, durationSec int, date string) error {
	_, err := s.db.Exec(
		`INSERT INTO test_runs (app_name, suite, passed, failed, duration_sec, date)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		app, suite, passed, failed, durationSec, date,
	)
	if err != nil {
		return fmt.Errorf("failed to insert test run: %w", err)
	}
	return nil
}

// SeedIfEmpty loads demo deployment data on first boot so the NL2SQL tools
// have something to answer against.
func (s *Store) SeedIfEmpty() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM deployment_data`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count deployments: %w", err)
	}
	if count > 0 {
		return nil
	}

	seed := []struct {
		app, env, status, version string
		duration                  int
		by, date                  string
	}{
		{"frontend", "PROD", "SUCCESS", "v2.4.1", 312, "ci-bot", "2026-08-28T09:12:00Z"},
		{"frontend", "STAGING", "SUCCESS", "v2.4.2", 288, "alice", "2026-08-29T16:40:00Z"},
		{"frontend", "PROD", "FAILED", "v2.4.2", 95, "ci-bot", "2026-08-30T08:02:00Z"},
		{"api-gateway", "PROD", "SUCCESS", "v1.19.0", 421, "ci-bot", "2026-08-27T11:30:00Z"},
		{"api-gateway", "DEV", "SUCCESS", "v1.20.0-rc1", 198, "bob", "2026-08-30T13:15:00Z"},
		{"billing", "PROD", "SUCCESS", "v3.0.7", 540, "ci-bot", "2026-08-25T07:45:00Z"},
		{"billing", "STAGING", "FAILED", "v3.1.0", 122, "carol", "2026-08-29T19:05:00Z"},
	}

	for _, d := range seed {
		if err := s.InsertDeployment(d.app, d.env, d.status, d.version, d.duration, d.by, d.date); err != nil {
			return err
		}
	}

	if err := s.InsertTestRun("frontend", "e2e", 142, 3, 610, "2026-08-30T08:30:00Z"); err != nil {
		return err
	}
	if err := s.InsertTestRun("api-gateway", "unit", 893, 0, 84, "2026-08-30T13:20:00Z"); err != nil {
		return err
	}

	logger.Info("CI/CD demo data seeded", zap.Int("deployments", len(seed)))
	return nil
}

// InsertDeployment exists for seeding and tests.
func (s *Store) InsertDeployment(app, env, status, version string, durationSec int, triggeredBy, date string) error {
	_, err := s.db.Exec(
		`INSERT INTO deployment_data (app_name, deploy_env, status, version, duration_sec, triggered_by, date)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		app, env, status, version, durationSec, triggeredBy, date,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deployment: %w", err)
	}
	return nil
}
