// Package sqlite persists published trust artifacts to a local SQLite
// database for offline analysis and replay.
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/cpsl-research/trust-ros/internal/fusion"
	"github.com/cpsl-research/trust-ros/internal/monitoring"
)

// pendingBatch accumulates the four artifacts of one batch until all
// have arrived and can be committed together.
type pendingBatch struct {
	batchID    string
	agentPsms  *fusion.PsmBatch
	trackPsms  *fusion.PsmBatch
	agentTrust *fusion.TrustBatch
	trackTrust *fusion.TrustBatch
}

func (b *pendingBatch) complete() bool {
	return b.agentPsms != nil && b.trackPsms != nil && b.agentTrust != nil && b.trackTrust != nil
}

// TrustStore implements fusion.ArtifactSink. The four per-batch publish
// calls are assembled into one pending batch and written inside a single
// transaction once the fourth arrives, so the database never holds a
// partial batch. The fusion orchestrator publishes the four artifacts of
// a batch in sequence from a single goroutine.
type TrustStore struct {
	db *sql.DB

	pendingMu sync.Mutex
	pending   *pendingBatch

	psmRows   uint64
	trustRows uint64
}

// NewTrustStore opens (creating if necessary) the database at path and
// ensures the schema exists. Use ":memory:" for an ephemeral store.
func NewTrustStore(path string) (*TrustStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS psms (
			psm_id            TEXT PRIMARY KEY,
			batch_id          TEXT NOT NULL,
			kind              TEXT NOT NULL,
			stamp_ns          BIGINT NOT NULL,
			target_id         TEXT NOT NULL,
			source_id         TEXT NOT NULL,
			value             DOUBLE NOT NULL,
			confidence        DOUBLE NOT NULL,
			recorded_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS trust_estimates (
			batch_id          TEXT NOT NULL,
			kind              TEXT NOT NULL,
			stamp_ns          BIGINT NOT NULL,
			target_id         TEXT NOT NULL,
			alpha             DOUBLE NOT NULL,
			beta              DOUBLE NOT NULL,
			mean              DOUBLE NOT NULL,
			variance          DOUBLE NOT NULL,
			recorded_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(batch_id, kind, target_id)
		);
		CREATE INDEX IF NOT EXISTS idx_psms_batch ON psms(batch_id);
		CREATE INDEX IF NOT EXISTS idx_trust_target ON trust_estimates(target_id, stamp_ns);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &TrustStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *TrustStore) Close() error {
	return s.db.Close()
}

// PsmRows returns the number of pseudo-measurement rows written.
func (s *TrustStore) PsmRows() uint64 {
	return atomic.LoadUint64(&s.psmRows)
}

// TrustRows returns the number of trust estimate rows written.
func (s *TrustStore) TrustRows() uint64 {
	return atomic.LoadUint64(&s.trustRows)
}

// pendingFor returns the in-progress batch, starting a new one when the
// batch ID changes. An abandoned partial batch means the orchestrator
// dropped the batch mid-publish; it is discarded without touching the
// database.
func (s *TrustStore) pendingFor(batchID string) *pendingBatch {
	if s.pending == nil || s.pending.batchID != batchID {
		if s.pending != nil {
			monitoring.Logf("[sqlite] discarding partial batch %s", s.pending.batchID)
		}
		s.pending = &pendingBatch{batchID: batchID}
	}
	return s.pending
}

// flushIfComplete commits the pending batch once all four artifacts have
// arrived. A failed commit leaves no rows behind.
func (s *TrustStore) flushIfComplete() error {
	if s.pending == nil || !s.pending.complete() {
		return nil
	}
	batch := s.pending
	s.pending = nil
	return s.writeBatch(batch)
}

func (s *TrustStore) writeBatch(batch *pendingBatch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	psmRows := 0
	for _, pb := range []struct {
		kind string
		b    *fusion.PsmBatch
	}{{"agent", batch.agentPsms}, {"track", batch.trackPsms}} {
		n, err := insertPsms(tx, pb.kind, pb.b)
		if err != nil {
			return err
		}
		psmRows += n
	}

	trustRows := 0
	for _, tb := range []struct {
		kind string
		b    *fusion.TrustBatch
	}{{"agent", batch.agentTrust}, {"track", batch.trackTrust}} {
		n, err := insertTrust(tx, tb.kind, tb.b)
		if err != nil {
			return err
		}
		trustRows += n
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	atomic.AddUint64(&s.psmRows, uint64(psmRows))
	atomic.AddUint64(&s.trustRows, uint64(trustRows))
	return nil
}

func insertPsms(tx *sql.Tx, kind string, b *fusion.PsmBatch) (int, error) {
	stmt, err := tx.Prepare(`
		INSERT INTO psms (psm_id, batch_id, kind, stamp_ns, target_id, source_id, value, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	stampNs := b.Stamp.UnixNano()
	for _, p := range b.Psms {
		if _, err := stmt.Exec(p.PsmID, b.BatchID, kind, stampNs, p.TargetID, p.SourceID, p.Value, p.Confidence); err != nil {
			return 0, fmt.Errorf("failed to insert psm %s: %w", p.PsmID, err)
		}
	}
	return len(b.Psms), nil
}

func insertTrust(tx *sql.Tx, kind string, b *fusion.TrustBatch) (int, error) {
	stmt, err := tx.Prepare(`
		INSERT INTO trust_estimates (batch_id, kind, stamp_ns, target_id, alpha, beta, mean, variance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	stampNs := b.Stamp.UnixNano()
	for _, e := range b.Estimates {
		if _, err := stmt.Exec(b.BatchID, kind, stampNs, e.TargetID, e.Alpha, e.Beta, e.Mean, e.Variance); err != nil {
			return 0, fmt.Errorf("failed to insert trust estimate %s: %w", e.TargetID, err)
		}
	}
	return len(b.Estimates), nil
}

// PublishAgentPsms implements fusion.ArtifactSink.
func (s *TrustStore) PublishAgentPsms(b *fusion.PsmBatch) error {
	if b == nil {
		return fmt.Errorf("nil psm batch")
	}
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pendingFor(b.BatchID).agentPsms = b
	return s.flushIfComplete()
}

// PublishTrackPsms implements fusion.ArtifactSink.
func (s *TrustStore) PublishTrackPsms(b *fusion.PsmBatch) error {
	if b == nil {
		return fmt.Errorf("nil psm batch")
	}
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pendingFor(b.BatchID).trackPsms = b
	return s.flushIfComplete()
}

// PublishAgentTrust implements fusion.ArtifactSink.
func (s *TrustStore) PublishAgentTrust(b *fusion.TrustBatch) error {
	if b == nil {
		return fmt.Errorf("nil trust batch")
	}
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pendingFor(b.BatchID).agentTrust = b
	return s.flushIfComplete()
}

// PublishTrackTrust implements fusion.ArtifactSink.
func (s *TrustStore) PublishTrackTrust(b *fusion.TrustBatch) error {
	if b == nil {
		return fmt.Errorf("nil trust batch")
	}
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pendingFor(b.BatchID).trackTrust = b
	return s.flushIfComplete()
}

// TrustHistory returns the stored trust estimates for one target in stamp
// order, newest last.
func (s *TrustStore) TrustHistory(targetID string, limit int) ([]fusion.TrustEstimate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT target_id, alpha, beta, mean, variance
		FROM trust_estimates
		WHERE target_id = ?
		ORDER BY stamp_ns DESC
		LIMIT ?
	`, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fusion.TrustEstimate
	for rows.Next() {
		var e fusion.TrustEstimate
		if err := rows.Scan(&e.TargetID, &e.Alpha, &e.Beta, &e.Mean, &e.Variance); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
