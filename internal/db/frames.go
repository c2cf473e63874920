package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// FrameRecord is the outcome of one pipeline pass.
type FrameRecord struct {
	SessionID        string        `json:"session_id"`
	Sequence         uint64        `json:"sequence"`
	Timestamp        time.Time     `json:"timestamp"`
	Phase            string        `json:"phase"`
	Energy           float64       `json:"energy"`
	Translation      [3]float64    `json:"translation"`
	Integrated       bool          `json:"integrated"`
	RelocAttempted   bool          `json:"reloc_attempted"`
	Relocalized      bool          `json:"relocalized"`
	KeyFrameOffered  bool          `json:"keyframe_offered"`
	KeyFrameAccepted bool          `json:"keyframe_accepted"`
	Successes        int           `json:"successes"`
	Failures         int           `json:"failures"`
	Duration         time.Duration `json:"duration"`
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// InsertFrameRecord writes one record, replacing any earlier record for
// the same session and sequence.
func (db *DB) InsertFrameRecord(ctx context.Context, r FrameRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO fusion_frames (
			session_id, sequence, ts_unix_nanos, phase, energy, tx, ty, tz,
			integrated, reloc_attempted, relocalized, keyframe_offered, keyframe_accepted,
			successes, failures, duration_us
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, int64(r.Sequence), r.Timestamp.UnixNano(), r.Phase, r.Energy,
		r.Translation[0], r.Translation[1], r.Translation[2],
		boolInt(r.Integrated), boolInt(r.RelocAttempted), boolInt(r.Relocalized),
		boolInt(r.KeyFrameOffered), boolInt(r.KeyFrameAccepted),
		r.Successes, r.Failures, r.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert frame record: %w", err)
	}
	return nil
}

// RecentFrameRecords returns up to limit of the session's latest records
// in sequence order.
func (db *DB) RecentFrameRecords(ctx context.Context, sessionID string, limit int) ([]FrameRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, ts_unix_nanos, phase, energy, tx, ty, tz,
		       integrated, reloc_attempted, relocalized, keyframe_offered, keyframe_accepted,
		       successes, failures, duration_us
		  FROM fusion_frames
		 WHERE session_id = ?
		 ORDER BY sequence DESC
		 LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var (
			r       FrameRecord
			seq, ts int64
			durUS   int64
			flags   [5]int
		)
		if err := rows.Scan(&seq, &ts, &r.Phase, &r.Energy,
			&r.Translation[0], &r.Translation[1], &r.Translation[2],
			&flags[0], &flags[1], &flags[2], &flags[3], &flags[4],
			&r.Successes, &r.Failures, &durUS); err != nil {
			return nil, err
		}
		r.SessionID = sessionID
		r.Sequence = uint64(seq)
		r.Timestamp = time.Unix(0, ts)
		r.Integrated = flags[0] != 0
		r.RelocAttempted = flags[1] != 0
		r.Relocalized = flags[2] != 0
		r.KeyFrameOffered = flags[3] != 0
		r.KeyFrameAccepted = flags[4] != 0
		r.Duration = time.Duration(durUS) * time.Microsecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// FrameWriter persists frame records on a background goroutine so the
// processing loop never waits on disk. When its queue is full new records
// are dropped and counted.
type FrameWriter struct {
	db      *DB
	ch      chan FrameRecord
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewFrameWriter starts a writer with a queue of size buffer.
func NewFrameWriter(db *DB, buffer int) *FrameWriter {
	if buffer <= 0 {
		buffer = 256
	}
	w := &FrameWriter{db: db, ch: make(chan FrameRecord, buffer)}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *FrameWriter) run() {
	defer w.wg.Done()
	for r := range w.ch {
		if err := w.db.InsertFrameRecord(context.Background(), r); err != nil {
			opsf("frame %d not recorded: %v", r.Sequence, err)
			continue
		}
		w.written.Add(1)
	}
}

// Enqueue queues r without blocking. It reports false when the record was
// dropped.
func (w *FrameWriter) Enqueue(r FrameRecord) bool {
	select {
	case w.ch <- r:
		return true
	default:
		if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
			opsf("frame writer queue full, dropped %d records so far", n)
		}
		return false
	}
}

// Dropped returns the number of records dropped so far.
func (w *FrameWriter) Dropped() uint64 { return w.dropped.Load() }

// Written returns the number of records persisted so far.
func (w *FrameWriter) Written() uint64 { return w.written.Load() }

// Close flushes queued records and stops the writer. Enqueue must not be
// called after Close.
func (w *FrameWriter) Close() {
	w.once.Do(func() { close(w.ch) })
	w.wg.Wait()
}
