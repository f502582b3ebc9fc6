package sink

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// sqliteTimeLayout sorts lexically in chronological order for UTC values.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTableName reports whether name is a plain or schema-qualified SQL identifier.
func ValidTableName(name string) bool {
	return identifierPattern.MatchString(name)
}

// Settings describes how to reach the store.
type Settings struct {
	Driver   string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	Path     string
	Table    string
}

type dialect struct {
	driverName  string
	placeholder func(n int) string
	createTable string
	createIndex string
	addSequence string
	latestState string
	timeArg     func(t time.Time) any
}

var postgresDialect = dialect{
	driverName:  "pgx",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	createTable: `
CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL,
    facility_id TEXT NOT NULL,
    available_spaces INTEGER,
    is_closed BOOLEAN NOT NULL,
    observed_at TIMESTAMPTZ
);`,
	createIndex: `CREATE INDEX IF NOT EXISTS %s ON %s (facility_id, observed_at);`,
	// Tables created before the write-order column existed get it on the next migrate.
	addSequence: `ALTER TABLE %s ADD COLUMN IF NOT EXISTS id BIGSERIAL;`,
	latestState: `
SELECT DISTINCT ON (facility_id) facility_id, is_closed, available_spaces
FROM %[1]s
ORDER BY facility_id, id DESC;`,
	timeArg: func(t time.Time) any {
		if t.IsZero() {
			return nil
		}
		return t
	},
}

var sqliteDialect = dialect{
	driverName:  "sqlite",
	placeholder: func(int) string { return "?" },
	createTable: `
CREATE TABLE IF NOT EXISTS %s (
    facility_id TEXT NOT NULL,
    available_spaces INTEGER,
    is_closed BOOLEAN NOT NULL,
    observed_at TEXT
);`,
	createIndex: `CREATE INDEX IF NOT EXISTS %s ON %s (facility_id, observed_at);`,
	// rowid follows insertion order for an append-only table.
	latestState: `
SELECT facility_id, is_closed, available_spaces
FROM %[1]s
WHERE rowid IN (SELECT MAX(rowid) FROM %[1]s GROUP BY facility_id);`,
	timeArg: func(t time.Time) any {
		if t.IsZero() {
			return nil
		}
		return t.UTC().Format(sqliteTimeLayout)
	},
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres:
		return postgresDialect, nil
	case DriverSQLite:
		return sqliteDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported driver %q", driver)
	}
}

func (d dialect) insertSQL(table string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (facility_id, available_spaces, is_closed, observed_at) VALUES (%s, %s, %s, %s)",
		table, d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4),
	)
}

func indexName(table string) string {
	base := table
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[i+1:]
	}
	return base + "_facility_observed_idx"
}

// DSN builds the driver connection string.
func (s Settings) DSN() (string, error) {
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case DriverPostgres:
		if s.Host == "" {
			return "", errors.New("database host is required")
		}
		if s.Database == "" {
			return "", errors.New("database name is required")
		}
		port := s.Port
		if port <= 0 {
			port = 5432
		}
		u := &url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(s.User, s.Password),
			Host:   net.JoinHostPort(s.Host, strconv.Itoa(port)),
			Path:   "/" + s.Database,
		}
		if s.SSLMode != "" {
			query := url.Values{}
			query.Set("sslmode", s.SSLMode)
			u.RawQuery = query.Encode()
		}
		return u.String(), nil
	case DriverSQLite:
		if strings.TrimSpace(s.Path) == "" {
			return "", errors.New("database path is required")
		}
		return filepath.Clean(s.Path) + "?_pragma=busy_timeout(5000)", nil
	default:
		return "", fmt.Errorf("unsupported driver %q", s.Driver)
	}
}
