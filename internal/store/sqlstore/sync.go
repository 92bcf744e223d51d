package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
)

// EnqueueOutgoingChange appends a local edit to the outbox and returns its
// local revision. The revision counter is shared by every record and never
// goes backwards, even once the outbox is empty.
func (s *Store) EnqueueOutgoingChange(ctx context.Context, change model.UnversionedRecordChange) (uint64, error) {
	const op = "enqueue outgoing change"
	key := change.ID.String()
	if err := change.ID.Validate(); err != nil {
		return 0, store.NewValidation(op, key, err)
	}
	fields, err := model.MarshalRecordData(change.UpdatedFields)
	if err != nil {
		return 0, store.NewValidation(op, key, err)
	}

	var revision int64
	err = s.withTx(ctx, op, key, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`UPDATE sync_outgoing_counter SET revision = revision + 1 WHERE id = 1 RETURNING revision`,
		).Scan(&revision)
		if err != nil {
			return fmt.Errorf("next local revision: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO sync_outgoing (record_type, data_id, schema_version, commit_time, updated_fields, revision)
			VALUES (?, ?, ?, ?, ?, ?)
		`), change.ID.Type, change.ID.DataID, change.SchemaVersion, s.now().Unix(), fields, revision)
		if err != nil {
			return fmt.Errorf("insert outgoing change: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(revision), nil
}

const selectOutgoingSQL = `
	SELECT o.record_type, o.data_id, o.schema_version, o.updated_fields, o.revision,
		st.schema_version, st.data, st.revision
	FROM sync_outgoing o
	LEFT JOIN sync_state st ON st.record_type = o.record_type AND st.data_id = o.data_id`

// ListPendingOutgoingChanges returns up to limit queued changes, oldest
// first, each with the record's confirmed state as parent.
func (s *Store) ListPendingOutgoingChanges(ctx context.Context, limit uint32) ([]model.OutgoingChange, error) {
	const op = "list pending outgoing changes"
	rows, err := s.db.QueryContext(ctx, s.q(selectOutgoingSQL+` ORDER BY o.revision ASC LIMIT ?`), int64(limit))
	if err != nil {
		return nil, classify(op, "", fmt.Errorf("query outbox: %w", err))
	}
	defer rows.Close()

	changes := []model.OutgoingChange{}
	for rows.Next() {
		c, err := scanOutgoing(rows)
		if err != nil {
			return nil, classify(op, "", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, "", fmt.Errorf("iterate outbox: %w", err))
	}
	return changes, nil
}

// PeekLatestOutgoingChange returns the most recently queued change, or nil
// when the outbox is empty.
func (s *Store) PeekLatestOutgoingChange(ctx context.Context) (*model.OutgoingChange, error) {
	row := s.db.QueryRowContext(ctx, selectOutgoingSQL+` ORDER BY o.revision DESC LIMIT 1`)
	c, err := scanOutgoing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("peek latest outgoing change", "", err)
	}
	return &c, nil
}

// CompleteOutgoingChange removes the acknowledged outbox entry, records the
// server snapshot and advances the cursor, atomically. A completion that
// matches no outbox entry is stale and changes nothing.
func (s *Store) CompleteOutgoingChange(ctx context.Context, record model.Record, localRevision uint64) error {
	const op = "complete outgoing change"
	key := record.ID.String()
	if err := record.ID.Validate(); err != nil {
		return store.NewValidation(op, key, err)
	}
	data, err := model.MarshalRecordData(record.Data)
	if err != nil {
		return store.NewValidation(op, key, err)
	}

	return s.withTx(ctx, op, key, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			DELETE FROM sync_outgoing WHERE record_type = ? AND data_id = ? AND revision = ?
		`), record.ID.Type, record.ID.DataID, int64(localRevision))
		if err != nil {
			return fmt.Errorf("delete outgoing change: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete outgoing change: %w", err)
		}
		if n == 0 {
			s.logger.Warn("outgoing change already completed",
				"record", key,
				"local_revision", localRevision,
				"revision", record.Revision)
			return nil
		}
		if err := s.upsertSyncState(ctx, tx, record, data); err != nil {
			return err
		}
		return s.advanceCursor(ctx, tx, record.Revision)
	})
}

// StageIncomingRecords stores remote snapshots for later application.
// Staging the same revision twice overwrites the earlier copy.
func (s *Store) StageIncomingRecords(ctx context.Context, records []model.Record) error {
	const op = "stage incoming records"
	if len(records) == 0 {
		return nil
	}
	payloads := make([]string, len(records))
	for i, r := range records {
		if err := r.ID.Validate(); err != nil {
			return store.NewValidation(op, r.ID.String(), err)
		}
		data, err := model.MarshalRecordData(r.Data)
		if err != nil {
			return store.NewValidation(op, r.ID.String(), err)
		}
		payloads[i] = data
	}

	commitTime := s.now().Unix()
	return s.withTx(ctx, op, records[0].ID.String(), func(tx *sql.Tx) error {
		for i, r := range records {
			_, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO sync_incoming (record_type, data_id, schema_version, commit_time, data, revision)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(record_type, data_id, revision) DO UPDATE SET
					schema_version = excluded.schema_version,
					commit_time = excluded.commit_time,
					data = excluded.data
			`), r.ID.Type, r.ID.DataID, r.SchemaVersion, commitTime, payloads[i], int64(r.Revision))
			if err != nil {
				return fmt.Errorf("stage %s@%d: %w", r.ID, r.Revision, err)
			}
		}
		return nil
	})
}

// ListIncomingRecords returns up to limit staged records in revision order,
// each with the record's current state.
func (s *Store) ListIncomingRecords(ctx context.Context, limit uint32) ([]model.IncomingChange, error) {
	const op = "list incoming records"
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT i.record_type, i.data_id, i.schema_version, i.data, i.revision,
			st.schema_version, st.data, st.revision
		FROM sync_incoming i
		LEFT JOIN sync_state st ON st.record_type = i.record_type AND st.data_id = i.data_id
		ORDER BY i.revision ASC, `+s.d.bytewise("i.record_type")+` ASC, `+s.d.bytewise("i.data_id")+` ASC
		LIMIT ?
	`), int64(limit))
	if err != nil {
		return nil, classify(op, "", fmt.Errorf("query inbox: %w", err))
	}
	defer rows.Close()

	changes := []model.IncomingChange{}
	for rows.Next() {
		var (
			rec                model.Record
			data               string
			revision           int64
			oldSchema, oldData sql.NullString
			oldRevision        sql.NullInt64
		)
		if err := rows.Scan(&rec.ID.Type, &rec.ID.DataID, &rec.SchemaVersion, &data, &revision,
			&oldSchema, &oldData, &oldRevision); err != nil {
			return nil, classify(op, "", fmt.Errorf("scan incoming: %w", err))
		}
		rec.Revision = uint64(revision)
		if rec.Data, err = model.UnmarshalRecordData(data); err != nil {
			return nil, classify(op, rec.ID.String(), err)
		}
		old, err := parentRecord(rec.ID, oldSchema, oldData, oldRevision)
		if err != nil {
			return nil, classify(op, rec.ID.String(), err)
		}
		changes = append(changes, model.IncomingChange{NewState: rec, OldState: old})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, "", fmt.Errorf("iterate inbox: %w", err))
	}
	return changes, nil
}

// ApplyIncomingRecord makes a remote snapshot the record's confirmed state
// and advances the cursor. An older revision than the stored state leaves
// the state untouched.
func (s *Store) ApplyIncomingRecord(ctx context.Context, record model.Record) error {
	const op = "apply incoming record"
	key := record.ID.String()
	if err := record.ID.Validate(); err != nil {
		return store.NewValidation(op, key, err)
	}
	data, err := model.MarshalRecordData(record.Data)
	if err != nil {
		return store.NewValidation(op, key, err)
	}
	return s.withTx(ctx, op, key, func(tx *sql.Tx) error {
		if err := s.upsertSyncState(ctx, tx, record, data); err != nil {
			return err
		}
		return s.advanceCursor(ctx, tx, record.Revision)
	})
}

// DeleteIncomingRecord removes one staged revision.
func (s *Store) DeleteIncomingRecord(ctx context.Context, record model.Record) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM sync_incoming WHERE record_type = ? AND data_id = ? AND revision = ?
	`), record.ID.Type, record.ID.DataID, int64(record.Revision))
	if err != nil {
		return classify("delete incoming record", record.ID.String(), fmt.Errorf("delete incoming: %w", err))
	}
	return nil
}

// GetLastRevision returns the highest server revision applied locally.
func (s *Store) GetLastRevision(ctx context.Context) (uint64, error) {
	var revision int64
	if err := s.db.QueryRowContext(ctx, `SELECT revision FROM sync_revision WHERE id = 1`).Scan(&revision); err != nil {
		return 0, classify("get last revision", "", fmt.Errorf("query cursor: %w", err))
	}
	return uint64(revision), nil
}

// GetRecordSyncStatus summarizes what the sync tables hold for id.
func (s *Store) GetRecordSyncStatus(ctx context.Context, id model.RecordID) (model.RecordSyncStatus, error) {
	const op = "get record sync status"
	if err := id.Validate(); err != nil {
		return model.RecordSyncStatus{}, store.NewValidation(op, id.String(), err)
	}
	var (
		revision           sql.NullInt64
		outgoing, incoming int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT
			(SELECT revision FROM sync_state WHERE record_type = ? AND data_id = ?),
			(SELECT COUNT(*) FROM sync_outgoing WHERE record_type = ? AND data_id = ?),
			(SELECT COUNT(*) FROM sync_incoming WHERE record_type = ? AND data_id = ?)
	`), id.Type, id.DataID, id.Type, id.DataID, id.Type, id.DataID).Scan(&revision, &outgoing, &incoming)
	if err != nil {
		return model.RecordSyncStatus{}, classify(op, id.String(), fmt.Errorf("query status: %w", err))
	}
	return model.RecordSyncStatus{
		ID:              id,
		HasState:        revision.Valid,
		Revision:        uint64(revision.Int64),
		PendingOutgoing: int(outgoing),
		PendingIncoming: int(incoming),
	}, nil
}

// upsertSyncState writes the confirmed snapshot unless a newer revision is
// already stored.
func (s *Store) upsertSyncState(ctx context.Context, tx *sql.Tx, record model.Record, data string) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO sync_state (record_type, data_id, schema_version, commit_time, data, revision)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_type, data_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			commit_time = excluded.commit_time,
			data = excluded.data,
			revision = excluded.revision
		WHERE excluded.revision >= sync_state.revision
	`), record.ID.Type, record.ID.DataID, record.SchemaVersion, s.now().Unix(), data, int64(record.Revision))
	if err != nil {
		return fmt.Errorf("upsert sync state: %w", err)
	}
	return nil
}

func (s *Store) advanceCursor(ctx context.Context, tx *sql.Tx, revision uint64) error {
	_, err := tx.ExecContext(ctx, s.q(fmt.Sprintf(
		`UPDATE sync_revision SET revision = %s(revision, ?) WHERE id = 1`, s.d.greatest,
	)), int64(revision))
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

func scanOutgoing(sc rowScanner) (model.OutgoingChange, error) {
	var (
		c                        model.OutgoingChange
		fields                   string
		revision                 int64
		parentSchema, parentData sql.NullString
		parentRevision           sql.NullInt64
	)
	err := sc.Scan(&c.Change.ID.Type, &c.Change.ID.DataID, &c.Change.SchemaVersion, &fields, &revision,
		&parentSchema, &parentData, &parentRevision)
	if err != nil {
		return model.OutgoingChange{}, err
	}
	c.Change.LocalRevision = uint64(revision)
	if c.Change.UpdatedFields, err = model.UnmarshalRecordData(fields); err != nil {
		return model.OutgoingChange{}, err
	}
	if c.Parent, err = parentRecord(c.Change.ID, parentSchema, parentData, parentRevision); err != nil {
		return model.OutgoingChange{}, err
	}
	return c, nil
}

// parentRecord rebuilds a joined sync_state row, or nil when the join
// found nothing.
func parentRecord(id model.RecordID, schema, data sql.NullString, revision sql.NullInt64) (*model.Record, error) {
	if !revision.Valid {
		return nil, nil
	}
	payload, err := model.UnmarshalRecordData(data.String)
	if err != nil {
		return nil, err
	}
	return &model.Record{
		ID:            id,
		Revision:      uint64(revision.Int64),
		SchemaVersion: schema.String,
		Data:          payload,
	}, nil
}
