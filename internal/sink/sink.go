package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RemiFigea/parkwatch/internal/parking"
	"github.com/RemiFigea/parkwatch/internal/state"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Sink appends detected changes durably.
type Sink interface {
	Persist(ctx context.Context, records []parking.StatusRecord) error
}

// Store is an append-only SQL table of facility changes backed by one long-lived connection.
type Store struct {
	sqlDB     *sql.DB
	dialect   dialect
	table     string
	insertSQL string
}

// Open connects to the store described by settings and verifies the connection.
func Open(ctx context.Context, settings Settings) (*Store, error) {
	d, err := dialectFor(settings.Driver)
	if err != nil {
		return nil, err
	}
	if !ValidTableName(settings.Table) {
		return nil, fmt.Errorf("invalid table name %q", settings.Table)
	}
	dsn, err := settings.DSN()
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", settings.Driver, err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s db: %w", settings.Driver, err)
	}

	return &Store{
		sqlDB:     sqlDB,
		dialect:   d,
		table:     settings.Table,
		insertSQL: d.insertSQL(settings.Table),
	}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Table returns the destination table name.
func (s *Store) Table() string {
	return s.table
}

// EnsureSchema creates the change table and its lookup index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return errors.New("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, fmt.Sprintf(s.dialect.createTable, s.table)); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	if s.dialect.addSequence != "" {
		if _, err := s.sqlDB.ExecContext(ctx, fmt.Sprintf(s.dialect.addSequence, s.table)); err != nil {
			return fmt.Errorf("add write order column to %s: %w", s.table, err)
		}
	}
	if _, err := s.sqlDB.ExecContext(ctx, fmt.Sprintf(s.dialect.createIndex, indexName(s.table), s.table)); err != nil {
		return fmt.Errorf("create index on %s: %w", s.table, err)
	}
	return nil
}

// Persist inserts one row per record inside a single transaction. Any failed insert rolls
// back the whole batch.
func (s *Store) Persist(ctx context.Context, records []parking.StatusRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return parking.Wrap(parking.KindPersistFailure, "persist changes", err)
	}
	if s == nil || s.sqlDB == nil {
		return parking.Wrap(parking.KindPersistFailure, "persist changes", errors.New("storage is not configured"))
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return parking.Wrap(parking.KindPersistFailure, "begin persist", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			cause = fmt.Errorf("%w: rollback: %v", cause, rollbackErr)
		}
		return parking.Wrap(parking.KindPersistFailure, "persist changes", cause)
	}

	stmt, err := tx.PrepareContext(ctx, s.insertSQL)
	if err != nil {
		return rollbackWith(fmt.Errorf("prepare insert: %w", err))
	}
	defer stmt.Close()

	for i, record := range records {
		if _, err := stmt.ExecContext(ctx,
			record.FacilityID,
			spacesArg(record.AvailableSpaces),
			record.IsClosed,
			s.dialect.timeArg(record.ObservedAt),
		); err != nil {
			return rollbackWith(fmt.Errorf("insert %s (%d of %d): %w", record.FacilityID, i+1, len(records), err))
		}
	}

	if err := tx.Commit(); err != nil {
		return parking.Wrap(parking.KindPersistFailure, "commit persist", err)
	}
	return nil
}

// LatestState rebuilds a state table from the last row written for every facility.
// Rows are ranked by write order, not observed_at.
func (s *Store) LatestState(ctx context.Context) (*state.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, errors.New("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, fmt.Sprintf(s.dialect.latestState, s.table))
	if err != nil {
		return nil, fmt.Errorf("query latest state: %w", err)
	}
	defer rows.Close()

	table := state.NewTable()
	for rows.Next() {
		var (
			facilityID string
			isClosed   bool
			spaces     sql.NullInt64
		)
		if err := rows.Scan(&facilityID, &isClosed, &spaces); err != nil {
			return nil, fmt.Errorf("scan latest state: %w", err)
		}
		entry := state.Entry{IsClosed: isClosed}
		if spaces.Valid {
			entry.AvailableSpaces = parking.Spaces(int(spaces.Int64))
		}
		table.Put(facilityID, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest state: %w", err)
	}
	return table, nil
}

func spacesArg(spaces *int) any {
	if spaces == nil {
		return nil
	}
	return int64(*spaces)
}
