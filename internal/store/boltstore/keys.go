package boltstore

import (
	"encoding/binary"
	"fmt"

	"github.com/roach88/ledgersync/internal/model"
)

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("corrupt counter (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// recordKey is type NUL dataID, so keys sort by type then data id.
func recordKey(id model.RecordID) []byte {
	k := make([]byte, 0, len(id.Type)+len(id.DataID)+1)
	k = append(k, id.Type...)
	k = append(k, 0)
	return append(k, id.DataID...)
}

// depositKey is txid NUL vout (big endian), ordering by txid then vout.
func depositKey(txid string, vout uint32) []byte {
	k := make([]byte, 0, len(txid)+5)
	k = append(k, txid...)
	k = append(k, 0)
	return binary.BigEndian.AppendUint32(k, vout)
}

// incomingKey orders staged records by revision, then type, then data id.
func incomingKey(r model.Record) []byte {
	return append(encodeUint64(r.Revision), recordKey(r.ID)...)
}

// outgoingKey orders the outbox by local revision.
func outgoingKey(localRevision uint64) []byte {
	return encodeUint64(localRevision)
}
