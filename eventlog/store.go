// Package eventlog persists the fault history of a device in sqlite.
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rocketbitz/fabric-errd/device"
	"github.com/rocketbitz/fabric-errd/internal/log"
)

const (
	columnTimestamp = "timestamp"
	columnKind      = "kind"
	columnDomain    = "domain"
	columnGroup     = "group_name"
	columnBit       = "bit"
	columnName      = "name"
	columnAction    = "action"
	columnBits      = "bits"
	columnMessage   = "message"
)

var (
	// ErrReadOnly indicates a write on a store opened read-only.
	ErrReadOnly = errors.New("eventlog: store is read-only")
	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("eventlog: store closed")

	validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

var _ device.HistorySink = (*Store)(nil)

// Store is a sqlite backed device.HistorySink.
type Store struct {
	table string
	dbRW  *sql.DB
	dbRO  *sql.DB

	retention     time.Duration
	purgeInterval time.Duration

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// Open opens or creates the history database at file.
func Open(file string, opts ...OpOption) (*Store, error) {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return nil, err
	}
	if !validTable.MatchString(op.table) {
		return nil, fmt.Errorf("eventlog: invalid table name %q", op.table)
	}

	dbRO, err := openDB(file, true)
	if err != nil {
		return nil, err
	}
	var dbRW *sql.DB
	if !op.readOnly {
		dbRW, err = openDB(file, false)
		if err != nil {
			_ = dbRO.Close()
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = createTable(ctx, dbRW, op.table)
		cancel()
		if err != nil {
			_ = dbRW.Close()
			_ = dbRO.Close()
			return nil, err
		}
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	s := &Store{
		table:         op.table,
		dbRW:          dbRW,
		dbRO:          dbRO,
		retention:     op.retention,
		purgeInterval: op.purgeInterval,
		rootCtx:       rootCtx,
		rootCancel:    rootCancel,
	}
	if dbRW != nil && s.retention > 0 {
		s.wg.Add(1)
		go s.runPurge()
	}
	return s, nil
}

func openDB(file string, readOnly bool) (*sql.DB, error) {
	// ref. https://github.com/mattn/go-sqlite3?tab=readme-ov-file#connection-string
	conns := "file:" + file + "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL"
	if readOnly {
		conns += "&mode=ro"
	} else {
		conns += "&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", conns)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database: %w (%q)", err, conns)
	}
	if !readOnly {
		// single connection for writing
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	return db, nil
}

func createTable(ctx context.Context, db *sql.DB, table string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	%s INTEGER NOT NULL,
	%s TEXT NOT NULL,
	%s TEXT NOT NULL,
	%s TEXT NOT NULL,
	%s INTEGER NOT NULL,
	%s TEXT,
	%s TEXT,
	%s INTEGER NOT NULL,
	%s TEXT
);`, table,
		columnTimestamp,
		columnKind,
		columnDomain,
		columnGroup,
		columnBit,
		columnName,
		columnAction,
		columnBits,
		columnMessage,
	))
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	for _, col := range []string{columnTimestamp, columnKind} {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);`, table, col, table, col))
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Table returns the table name in use.
func (s *Store) Table() string {
	return s.table
}

// Record implements device.HistorySink.
func (s *Store) Record(ctx context.Context, ev device.HistoryEvent) error {
	return s.Insert(ctx, ev)
}

// Insert stores one history event. A zero time is stamped with now.
func (s *Store) Insert(ctx context.Context, ev device.HistoryEvent) error {
	if s.dbRW == nil {
		return ErrReadOnly
	}
	if s.rootCtx.Err() != nil {
		return ErrClosed
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	_, err := s.dbRW.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s) VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''))",
		s.table,
		columnTimestamp,
		columnKind,
		columnDomain,
		columnGroup,
		columnBit,
		columnName,
		columnAction,
		columnBits,
		columnMessage,
	),
		ev.Time.UTC().UnixNano(),
		string(ev.Kind),
		ev.Domain,
		ev.Group,
		ev.Bit,
		ev.Name,
		ev.Action,
		// sqlite integers are signed
		int64(ev.Bits),
		ev.Message,
	)
	return err
}

func (s *Store) selectColumns() string {
	return fmt.Sprintf("%s, %s, %s, %s, %s, %s, %s, %s, %s",
		columnTimestamp, columnKind, columnDomain, columnGroup, columnBit,
		columnName, columnAction, columnBits, columnMessage)
}

// Get returns the events after since, latest first.
func (s *Store) Get(ctx context.Context, since time.Time) ([]device.HistoryEvent, error) {
	query := fmt.Sprintf(`SELECT %s
FROM %s
WHERE %s > ?
ORDER BY %s DESC, rowid DESC`,
		s.selectColumns(),
		s.table,
		columnTimestamp,
		columnTimestamp,
	)
	var after int64
	if !since.IsZero() {
		after = since.UTC().UnixNano()
	}
	rows, err := s.dbRO.QueryContext(ctx, query, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []device.HistoryEvent
	for rows.Next() {
		ev, err := scan(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Latest returns the newest event, or nil when the table is empty.
func (s *Store) Latest(ctx context.Context) (*device.HistoryEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s DESC, rowid DESC LIMIT 1`,
		s.selectColumns(), s.table, columnTimestamp)
	ev, err := scan(s.dbRO.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

// Purge deletes events older than before and returns how many were removed.
func (s *Store) Purge(ctx context.Context, before time.Time) (int, error) {
	if s.dbRW == nil {
		return 0, ErrReadOnly
	}
	rs, err := s.dbRW.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s < ?`, s.table, columnTimestamp), before.UTC().UnixNano())
	if err != nil {
		return 0, err
	}
	affected, err := rs.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) runPurge() {
	defer s.wg.Done()
	log.Logger.Infow("start purging", "table", s.table, "retention", s.retention, "checkInterval", s.purgeInterval)
	for {
		select {
		case <-s.rootCtx.Done():
			return
		case <-time.After(s.purgeInterval):
		}

		purged, err := s.Purge(s.rootCtx, time.Now().Add(-s.retention))
		if err != nil {
			log.Logger.Errorw("failed to purge history", "table", s.table, "retention", s.retention, "error", err)
		} else {
			log.Logger.Debugw("purged history", "table", s.table, "retention", s.retention, "purged", purged)
		}
	}
}

// Close stops the purge loop and closes the database handles.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.rootCancel()
		s.wg.Wait()
		if s.dbRW != nil {
			err = errors.Join(err, s.dbRW.Close())
		}
		err = errors.Join(err, s.dbRO.Close())
	})
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (device.HistoryEvent, error) {
	var (
		ev      device.HistoryEvent
		ts      int64
		kind    string
		bits    int64
		name    sql.NullString
		action  sql.NullString
		message sql.NullString
	)
	if err := row.Scan(&ts, &kind, &ev.Domain, &ev.Group, &ev.Bit, &name, &action, &bits, &message); err != nil {
		return ev, err
	}
	ev.Time = time.Unix(0, ts).UTC()
	ev.Kind = device.HistoryKind(kind)
	ev.Bits = uint64(bits)
	ev.Name = name.String
	ev.Action = action.String
	ev.Message = message.String
	return ev, nil
}
