package model

import (
	"maps"
	"strings"
)

// RecordID is the logical identity of a syncable entity.
type RecordID struct {
	Type   string `json:"type"`
	DataID string `json:"data_id"`
}

func (id RecordID) String() string {
	return id.Type + ":" + id.DataID
}

// Validate requires both parts. NUL is reserved as the key separator of
// keyed backends and is rejected in either part.
func (id RecordID) Validate() error {
	if id.Type == "" {
		return &ValidationError{Field: "record_id.type", Reason: "must not be empty"}
	}
	if id.DataID == "" {
		return &ValidationError{Field: "record_id.data_id", Reason: "must not be empty"}
	}
	if strings.ContainsRune(id.Type, 0) {
		return &ValidationError{Field: "record_id.type", Reason: "must not contain NUL"}
	}
	if strings.ContainsRune(id.DataID, 0) {
		return &ValidationError{Field: "record_id.data_id", Reason: "must not contain NUL"}
	}
	return nil
}

// Record is a full server-confirmed snapshot of an entity.
type Record struct {
	ID            RecordID          `json:"id"`
	Revision      uint64            `json:"revision"`
	SchemaVersion string            `json:"schema_version"`
	Data          map[string]string `json:"data"`
}

// UnversionedRecordChange is a local edit before it joins the outbox.
type UnversionedRecordChange struct {
	ID            RecordID          `json:"id"`
	SchemaVersion string            `json:"schema_version"`
	UpdatedFields map[string]string `json:"updated_fields"`
}

// RecordChange is a queued local edit. LocalRevision comes from one counter
// shared by every record's outbox entries.
type RecordChange struct {
	ID            RecordID          `json:"id"`
	SchemaVersion string            `json:"schema_version"`
	UpdatedFields map[string]string `json:"updated_fields"`
	LocalRevision uint64            `json:"local_revision"`
}

// OutgoingChange pairs a queued edit with the record's confirmed state.
// Parent is nil if the record was never synced.
type OutgoingChange struct {
	Change RecordChange `json:"change"`
	Parent *Record      `json:"parent,omitempty"`
}

// Merge overlays the updated fields on the parent's data and returns the
// resulting snapshot at the given revision.
func (c OutgoingChange) Merge(revision uint64) Record {
	data := make(map[string]string, len(c.Change.UpdatedFields))
	if c.Parent != nil {
		maps.Copy(data, c.Parent.Data)
	}
	maps.Copy(data, c.Change.UpdatedFields)
	return Record{
		ID:            c.Change.ID,
		Revision:      revision,
		SchemaVersion: c.Change.SchemaVersion,
		Data:          data,
	}
}

// ParentRevision returns the parent's revision, or 0 without a parent.
func (c OutgoingChange) ParentRevision() uint64 {
	if c.Parent == nil {
		return 0
	}
	return c.Parent.Revision
}

// IncomingChange pairs a staged remote snapshot with the current state.
type IncomingChange struct {
	NewState Record  `json:"new_state"`
	OldState *Record `json:"old_state,omitempty"`
}

// SyncStateKind is the per-record synchronization state.
type SyncStateKind string

const (
	SyncUnsynced    SyncStateKind = "unsynced"
	SyncPendingPush SyncStateKind = "pending_push"
	SyncSynced      SyncStateKind = "synced"
	SyncPendingPull SyncStateKind = "pending_pull"
)

// RecordSyncStatus summarizes the sync tables for one record.
type RecordSyncStatus struct {
	ID              RecordID `json:"id"`
	HasState        bool     `json:"has_state"`
	Revision        uint64   `json:"revision"`
	PendingOutgoing int      `json:"pending_outgoing"`
	PendingIncoming int      `json:"pending_incoming"`
}

// State derives the state machine position. A staged incoming record takes
// precedence over everything else.
func (s RecordSyncStatus) State() SyncStateKind {
	switch {
	case s.PendingIncoming > 0:
		return SyncPendingPull
	case !s.HasState:
		return SyncUnsynced
	case s.PendingOutgoing > 0:
		return SyncPendingPush
	}
	return SyncSynced
}
