// Package store persists confirmed dose events, the daily dose index, and
// rollover bookkeeping to SQLite. Writes are queued and flushed in batches by
// a background goroutine so callers holding the core lock never touch the
// database directly.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/sweeney/pillbox-sensor/internal/logic"
	"github.com/sweeney/pillbox-sensor/internal/stats"
)

// Schema for the dispenser tables. Applied on Open.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slot_id INTEGER NOT NULL,
	label TEXT NOT NULL,
	taken_at INTEGER NOT NULL,
	returned_at INTEGER NOT NULL,
	duration_seconds INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_taken ON events(taken_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_slot ON events(slot_id);

CREATE TABLE IF NOT EXISTS daily_stats (
	date TEXT NOT NULL,
	slot_id INTEGER NOT NULL,
	count INTEGER NOT NULL,
	times TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (date, slot_id)
);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const metaLastResetDate = "last_reset_date"

type opKind int

const (
	opDose opKind = iota
	opDelete
	opReset
	opClear
	opSync
)

type op struct {
	kind   opKind
	ev     logic.DoseEvent
	date   string
	synced chan struct{}
}

// Store is a SQLite-backed journal. Enqueue methods never block; if the
// queue is full the operation is dropped with a warning.
type Store struct {
	db   *sql.DB
	ch   chan op
	done chan struct{}
	once sync.Once
}

// Open opens (creating if necessary) the database at path and starts the
// background writer.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY between the writer goroutine and Load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:   db,
		ch:   make(chan op, 1024),
		done: make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// RecordDose queues a confirmed dose for persistence.
func (s *Store) RecordDose(ev logic.DoseEvent) {
	s.enqueue(op{kind: opDose, ev: ev})
}

// RecordReset queues the rollover date for persistence.
func (s *Store) RecordReset(date string) {
	s.enqueue(op{kind: opReset, date: date})
}

// DeleteDose queues removal of a single event. Daily counts are kept, the
// in-memory index keeps them too.
func (s *Store) DeleteDose(ev logic.DoseEvent) {
	s.enqueue(op{kind: opDelete, ev: ev})
}

// Clear queues a wipe of events and daily stats.
func (s *Store) Clear() {
	s.enqueue(op{kind: opClear})
}

func (s *Store) enqueue(o op) {
	select {
	case s.ch <- o:
	default:
		log.Warn("store: write queue full, dropping operation")
	}
}

// Close drains pending writes and closes the database.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return s.db.Close()
}

func (s *Store) flushLoop() {
	defer close(s.done)

	batch := make([]op, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case o, ok := <-s.ch:
			if !ok {
				s.flushBatch(batch)
				return
			}
			if o.kind == opSync {
				s.flushBatch(batch)
				batch = batch[:0]
				close(o.synced)
				continue
			}
			batch = append(batch, o)
			if len(batch) >= 64 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Store) flushBatch(batch []op) {
	if len(batch) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.WithError(err).Error("store: begin tx")
		return
	}

	for _, o := range batch {
		if err := applyOp(tx, o); err != nil {
			log.WithError(err).Error("store: apply operation")
		}
	}

	if err := tx.Commit(); err != nil {
		log.WithError(err).Error("store: commit")
	}
}

func applyOp(tx *sql.Tx, o op) error {
	switch o.kind {
	case opDose:
		if _, err := tx.Exec(
			`INSERT INTO events (slot_id, label, taken_at, returned_at, duration_seconds)
			 VALUES (?, ?, ?, ?, ?)`,
			o.ev.SlotID, o.ev.Label, o.ev.TakenAt.UnixNano(), o.ev.ReturnedAt.UnixNano(), o.ev.DurationSeconds,
		); err != nil {
			return err
		}
		_, err := tx.Exec(
			`INSERT INTO daily_stats (date, slot_id, count, times)
			 VALUES (?, ?, 1, json_array(?))
			 ON CONFLICT(date, slot_id) DO UPDATE SET
			   count = count + 1,
			   times = json_insert(times, '$[#]', json_extract(excluded.times, '$[0]'))`,
			o.ev.TakenAt.Format(stats.DateLayout), o.ev.SlotID, o.ev.TakenAt.Format(time.RFC3339Nano),
		)
		return err
	case opDelete:
		_, err := tx.Exec(
			`DELETE FROM events WHERE slot_id = ? AND taken_at = ?`,
			o.ev.SlotID, o.ev.TakenAt.UnixNano(),
		)
		return err
	case opReset:
		_, err := tx.Exec(
			`INSERT INTO meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			metaLastResetDate, o.date,
		)
		return err
	case opClear:
		if _, err := tx.Exec(`DELETE FROM events`); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM daily_stats`)
		return err
	}
	return nil
}

// Flush blocks until every operation queued before the call is committed.
// The sync marker rides the same channel as the writes, so by the time the
// writer reaches it everything ahead of it has been flushed.
func (s *Store) Flush() {
	synced := make(chan struct{})
	s.ch <- op{kind: opSync, synced: synced}
	<-synced
}

// Load reads persisted state for restart recovery. Events are returned
// newest first, capped at historyLimit (0 means no cap).
func (s *Store) Load(historyLimit int) ([]logic.DoseEvent, stats.Index, string, error) {
	events, err := s.loadEvents(historyLimit)
	if err != nil {
		return nil, nil, "", fmt.Errorf("load events: %w", err)
	}

	idx, err := s.loadIndex()
	if err != nil {
		return nil, nil, "", fmt.Errorf("load daily stats: %w", err)
	}

	var lastReset string
	err = s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaLastResetDate).Scan(&lastReset)
	if err != nil && err != sql.ErrNoRows {
		return nil, nil, "", fmt.Errorf("load meta: %w", err)
	}

	return events, idx, lastReset, nil
}

func (s *Store) loadEvents(limit int) ([]logic.DoseEvent, error) {
	q := `SELECT slot_id, label, taken_at, returned_at, duration_seconds
	      FROM events ORDER BY taken_at DESC, id DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(q+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []logic.DoseEvent
	for rows.Next() {
		var ev logic.DoseEvent
		var takenNs, returnedNs int64
		if err := rows.Scan(&ev.SlotID, &ev.Label, &takenNs, &returnedNs, &ev.DurationSeconds); err != nil {
			return nil, err
		}
		ev.TakenAt = time.Unix(0, takenNs)
		ev.ReturnedAt = time.Unix(0, returnedNs)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) loadIndex() (stats.Index, error) {
	rows, err := s.db.Query(`SELECT date, slot_id, count, times FROM daily_stats`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	idx := make(stats.Index)
	for rows.Next() {
		var date, timesJSON string
		var slotID, count int
		if err := rows.Scan(&date, &slotID, &count, &timesJSON); err != nil {
			return nil, err
		}

		var raw []string
		if err := json.Unmarshal([]byte(timesJSON), &raw); err != nil {
			log.WithError(err).Warnf("store: bad times for %s slot %d, skipping times", date, slotID)
		}
		times := make([]time.Time, 0, len(raw))
		for _, r := range raw {
			t, err := time.Parse(time.RFC3339Nano, r)
			if err != nil {
				continue
			}
			times = append(times, t)
		}

		day, ok := idx[date]
		if !ok {
			day = make(stats.Day)
			idx[date] = day
		}
		day[slotID] = stats.SlotDay{Count: count, Times: times}
	}
	return idx, rows.Err()
}
