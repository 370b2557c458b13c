package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/irmahq/irma/internal/derive"
	"github.com/irmahq/irma/internal/schema"
)

// Commit persists one accepted record together with the derived updates
// its write implies, atomically.
//
// Commit is the single mutation entry point. The mutex guarantees at
// most one write transaction is in flight, so the partition rows the
// engine derived from cannot change between validation and commit.
func (s *Store) Commit(ctx context.Context, rec *schema.Record, updates []derive.Update) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := upsertRecord(ctx, tx, rec); err != nil {
		return err
	}
	if err := applyDerived(ctx, tx, rec.EntityType, updates); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ApplyDerived persists derived updates without touching any base
// record. Used by recompute sweeps over already-stored rows.
func (s *Store) ApplyDerived(ctx context.Context, entity string, updates []derive.Update) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply derived: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := applyDerived(ctx, tx, entity, updates); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply derived: %w", err)
	}
	return nil
}

// upsertRecord inserts or replaces the record's attrs. The record must
// already carry an ID; the engine assigns one before validation.
func upsertRecord(ctx context.Context, tx *sql.Tx, rec *schema.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("commit: record has no id")
	}

	attrsJSON, err := marshalAttrs(rec.Attrs)
	if err != nil {
		return fmt.Errorf("commit %s/%s: %w", rec.EntityType, rec.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, entity_type, attrs)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			attrs = excluded.attrs,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, rec.ID, rec.EntityType, attrsJSON)
	if err != nil {
		return fmt.Errorf("commit %s/%s: %w", rec.EntityType, rec.ID, err)
	}
	return nil
}

// applyDerived writes each recomputed value into its row's attrs via
// json_set. Updates for rows that vanished since planning affect zero
// rows, which is fine: a later write of that row recomputes again.
func applyDerived(ctx context.Context, tx *sql.Tx, entity string, updates []derive.Update) error {
	for _, u := range updates {
		valJSON, err := marshalValue(u.Value)
		if err != nil {
			return fmt.Errorf("apply derived %s/%s: %w", entity, u.RecordID, err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE records
			SET attrs = json_set(attrs, ?, json(?)),
			    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
			WHERE id = ? AND entity_type = ?
		`, "$."+u.Attribute, valJSON, u.RecordID, entity)
		if err != nil {
			return fmt.Errorf("apply derived %s/%s: %w", entity, u.RecordID, err)
		}
	}
	return nil
}

// Delete removes one record. Returns whether a row was deleted.
func (s *Store) Delete(ctx context.Context, entity, id string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM records WHERE id = ? AND entity_type = ?
	`, id, entity)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", entity, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", entity, id, err)
	}
	return n > 0, nil
}
