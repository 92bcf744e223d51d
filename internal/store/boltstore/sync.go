package boltstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
)

// recordDoc is a stored snapshot. Data holds the canonical JSON payload.
type recordDoc struct {
	ID            model.RecordID `json:"id"`
	Revision      uint64         `json:"revision"`
	SchemaVersion string         `json:"schema_version"`
	Data          string         `json:"data"`
	CommitTime    int64          `json:"commit_time"`
}

func (d recordDoc) record() (model.Record, error) {
	data, err := model.UnmarshalRecordData(d.Data)
	if err != nil {
		return model.Record{}, err
	}
	return model.Record{ID: d.ID, Revision: d.Revision, SchemaVersion: d.SchemaVersion, Data: data}, nil
}

// changeDoc is a stored outbox entry.
type changeDoc struct {
	ID            model.RecordID `json:"id"`
	SchemaVersion string         `json:"schema_version"`
	UpdatedFields string         `json:"updated_fields"`
	LocalRevision uint64         `json:"local_revision"`
	CommitTime    int64          `json:"commit_time"`
}

func newRecordDoc(r model.Record, commitTime int64) (recordDoc, error) {
	data, err := model.MarshalRecordData(r.Data)
	if err != nil {
		return recordDoc{}, err
	}
	return recordDoc{ID: r.ID, Revision: r.Revision, SchemaVersion: r.SchemaVersion, Data: data, CommitTime: commitTime}, nil
}

// EnqueueOutgoingChange appends to the outbox. Local revisions come from
// the outbox bucket's sequence, which survives the bucket draining.
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

	var revision uint64
	err = s.update(ctx, op, key, func(tx *bolt.Tx) error {
		b, err := bucket(tx, syncOutgoingBucket)
		if err != nil {
			return err
		}
		if revision, err = b.NextSequence(); err != nil {
			return fmt.Errorf("next local revision: %w", err)
		}
		data, err := json.Marshal(changeDoc{
			ID:            change.ID,
			SchemaVersion: change.SchemaVersion,
			UpdatedFields: fields,
			LocalRevision: revision,
			CommitTime:    s.now().Unix(),
		})
		if err != nil {
			return err
		}
		return b.Put(outgoingKey(revision), data)
	})
	if err != nil {
		return 0, err
	}
	return revision, nil
}

// ListPendingOutgoingChanges returns up to limit changes, oldest first.
func (s *Store) ListPendingOutgoingChanges(ctx context.Context, limit uint32) ([]model.OutgoingChange, error) {
	changes := []model.OutgoingChange{}
	err := s.view(ctx, "list pending outgoing changes", "", func(tx *bolt.Tx) error {
		c := tx.Bucket(syncOutgoingBucket).Cursor()
		for k, v := c.First(); k != nil && uint32(len(changes)) < limit; k, v = c.Next() {
			change, err := outgoing(tx, v)
			if err != nil {
				return err
			}
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// PeekLatestOutgoingChange returns the newest change, or nil.
func (s *Store) PeekLatestOutgoingChange(ctx context.Context) (*model.OutgoingChange, error) {
	var latest *model.OutgoingChange
	err := s.view(ctx, "peek latest outgoing change", "", func(tx *bolt.Tx) error {
		_, v := tx.Bucket(syncOutgoingBucket).Cursor().Last()
		if v == nil {
			return nil
		}
		change, err := outgoing(tx, v)
		if err != nil {
			return err
		}
		latest = &change
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// CompleteOutgoingChange removes the acknowledged entry, stores the server
// snapshot and advances the cursor. Unknown entries are stale completions
// and change nothing.
func (s *Store) CompleteOutgoingChange(ctx context.Context, record model.Record, localRevision uint64) error {
	const op = "complete outgoing change"
	key := record.ID.String()
	if err := record.ID.Validate(); err != nil {
		return store.NewValidation(op, key, err)
	}
	doc, err := newRecordDoc(record, 0)
	if err != nil {
		return store.NewValidation(op, key, err)
	}

	return s.update(ctx, op, key, func(tx *bolt.Tx) error {
		b, err := bucket(tx, syncOutgoingBucket)
		if err != nil {
			return err
		}
		k := outgoingKey(localRevision)
		raw := b.Get(k)
		var entry changeDoc
		if raw != nil {
			if err := json.Unmarshal(raw, &entry); err != nil {
				return fmt.Errorf("decode outgoing change: %w", err)
			}
		}
		if raw == nil || entry.ID != record.ID {
			s.logger.Warn("outgoing change already completed",
				"record", key,
				"local_revision", localRevision,
				"revision", record.Revision)
			return nil
		}
		if err := b.Delete(k); err != nil {
			return err
		}
		doc.CommitTime = s.now().Unix()
		if err := putState(tx, doc); err != nil {
			return err
		}
		return advanceCursor(tx, record.Revision)
	})
}

// StageIncomingRecords stores remote snapshots keyed by revision.
func (s *Store) StageIncomingRecords(ctx context.Context, records []model.Record) error {
	const op = "stage incoming records"
	if len(records) == 0 {
		return nil
	}
	commitTime := s.now().Unix()
	docs := make([]recordDoc, len(records))
	for i, r := range records {
		if err := r.ID.Validate(); err != nil {
			return store.NewValidation(op, r.ID.String(), err)
		}
		doc, err := newRecordDoc(r, commitTime)
		if err != nil {
			return store.NewValidation(op, r.ID.String(), err)
		}
		docs[i] = doc
	}

	return s.update(ctx, op, records[0].ID.String(), func(tx *bolt.Tx) error {
		b, err := bucket(tx, syncIncomingBucket)
		if err != nil {
			return err
		}
		for i, r := range records {
			data, err := json.Marshal(docs[i])
			if err != nil {
				return err
			}
			if err := b.Put(incomingKey(r), data); err != nil {
				return fmt.Errorf("stage %s@%d: %w", r.ID, r.Revision, err)
			}
		}
		return nil
	})
}

// ListIncomingRecords returns up to limit staged records by revision.
func (s *Store) ListIncomingRecords(ctx context.Context, limit uint32) ([]model.IncomingChange, error) {
	changes := []model.IncomingChange{}
	err := s.view(ctx, "list incoming records", "", func(tx *bolt.Tx) error {
		c := tx.Bucket(syncIncomingBucket).Cursor()
		for k, v := c.First(); k != nil && uint32(len(changes)) < limit; k, v = c.Next() {
			var doc recordDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("decode incoming record: %w", err)
			}
			rec, err := doc.record()
			if err != nil {
				return err
			}
			old, err := getState(tx, rec.ID)
			if err != nil {
				return err
			}
			changes = append(changes, model.IncomingChange{NewState: rec, OldState: old})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// ApplyIncomingRecord stores the snapshot unless a newer one is present,
// and advances the cursor either way.
func (s *Store) ApplyIncomingRecord(ctx context.Context, record model.Record) error {
	const op = "apply incoming record"
	key := record.ID.String()
	if err := record.ID.Validate(); err != nil {
		return store.NewValidation(op, key, err)
	}
	doc, err := newRecordDoc(record, 0)
	if err != nil {
		return store.NewValidation(op, key, err)
	}
	return s.update(ctx, op, key, func(tx *bolt.Tx) error {
		doc.CommitTime = s.now().Unix()
		if err := putState(tx, doc); err != nil {
			return err
		}
		return advanceCursor(tx, record.Revision)
	})
}

// DeleteIncomingRecord removes one staged revision.
func (s *Store) DeleteIncomingRecord(ctx context.Context, record model.Record) error {
	return s.update(ctx, "delete incoming record", record.ID.String(), func(tx *bolt.Tx) error {
		b, err := bucket(tx, syncIncomingBucket)
		if err != nil {
			return err
		}
		return b.Delete(incomingKey(record))
	})
}

// GetLastRevision returns the cursor, 0 before anything was applied.
func (s *Store) GetLastRevision(ctx context.Context) (uint64, error) {
	var revision uint64
	err := s.view(ctx, "get last revision", "", func(tx *bolt.Tx) error {
		var err error
		revision, err = lastRevision(tx)
		return err
	})
	return revision, err
}

// GetRecordSyncStatus counts the outbox and inbox entries for id.
func (s *Store) GetRecordSyncStatus(ctx context.Context, id model.RecordID) (model.RecordSyncStatus, error) {
	const op = "get record sync status"
	if err := id.Validate(); err != nil {
		return model.RecordSyncStatus{}, store.NewValidation(op, id.String(), err)
	}
	status := model.RecordSyncStatus{ID: id}
	err := s.view(ctx, op, id.String(), func(tx *bolt.Tx) error {
		state, err := getState(tx, id)
		if err != nil {
			return err
		}
		if state != nil {
			status.HasState = true
			status.Revision = state.Revision
		}
		err = tx.Bucket(syncOutgoingBucket).ForEach(func(_, v []byte) error {
			var entry changeDoc
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.ID == id {
				status.PendingOutgoing++
			}
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(syncIncomingBucket).ForEach(func(_, v []byte) error {
			var doc recordDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if doc.ID == id {
				status.PendingIncoming++
			}
			return nil
		})
	})
	if err != nil {
		return model.RecordSyncStatus{}, err
	}
	return status, nil
}

// outgoing decodes an outbox entry and pairs it with the record's state.
func outgoing(tx *bolt.Tx, raw []byte) (model.OutgoingChange, error) {
	var entry changeDoc
	if err := json.Unmarshal(raw, &entry); err != nil {
		return model.OutgoingChange{}, fmt.Errorf("decode outgoing change: %w", err)
	}
	fields, err := model.UnmarshalRecordData(entry.UpdatedFields)
	if err != nil {
		return model.OutgoingChange{}, err
	}
	parent, err := getState(tx, entry.ID)
	if err != nil {
		return model.OutgoingChange{}, err
	}
	return model.OutgoingChange{
		Change: model.RecordChange{
			ID:            entry.ID,
			SchemaVersion: entry.SchemaVersion,
			UpdatedFields: fields,
			LocalRevision: entry.LocalRevision,
		},
		Parent: parent,
	}, nil
}

func getState(tx *bolt.Tx, id model.RecordID) (*model.Record, error) {
	raw := tx.Bucket(syncStateBucket).Get(recordKey(id))
	if raw == nil {
		return nil, nil
	}
	var doc recordDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode sync state %s: %w", id, err)
	}
	rec, err := doc.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// putState writes doc unless the stored state has a newer revision.
func putState(tx *bolt.Tx, doc recordDoc) error {
	b, err := bucket(tx, syncStateBucket)
	if err != nil {
		return err
	}
	key := recordKey(doc.ID)
	if raw := b.Get(key); raw != nil {
		var stored recordDoc
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("decode sync state %s: %w", doc.ID, err)
		}
		if doc.Revision < stored.Revision {
			return nil
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func lastRevision(tx *bolt.Tx) (uint64, error) {
	v := tx.Bucket(syncRevisionBucket).Get(lastRevisionKey)
	if v == nil {
		return 0, nil
	}
	return decodeUint64(v)
}

func advanceCursor(tx *bolt.Tx, revision uint64) error {
	current, err := lastRevision(tx)
	if err != nil {
		return err
	}
	if revision <= current {
		return nil
	}
	return tx.Bucket(syncRevisionBucket).Put(lastRevisionKey, encodeUint64(revision))
}
