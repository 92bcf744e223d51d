package syncengine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"github.com/roach88/ledgersync/internal/model"
)

var (
	logBucket    = []byte("log")
	latestBucket = []byte("latest")
)

// FileRemote is a Remote kept in a bolt file. The file is opened for each
// call, so stores of several devices on one host can share it.
type FileRemote struct {
	path        string
	lockTimeout time.Duration
}

func NewFileRemote(path string) *FileRemote {
	return &FileRemote{path: path, lockTimeout: 5 * time.Second}
}

func (r *FileRemote) Push(ctx context.Context, rec model.Record, parent uint64) (uint64, error) {
	if err := rec.ID.Validate(); err != nil {
		return 0, err
	}
	var rev uint64
	err := r.with(ctx, false, func(tx *bolt.Tx) error {
		latest := tx.Bucket(latestBucket)
		key := remoteRecordKey(rec.ID)

		var current uint64
		if v := latest.Get(key); v != nil {
			current = binary.BigEndian.Uint64(v)
		}
		if current != parent {
			return ErrConflict
		}

		log := tx.Bucket(logBucket)
		next, err := log.NextSequence()
		if err != nil {
			return err
		}
		rec.Revision = next
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		revKey := binary.BigEndian.AppendUint64(nil, next)
		if err := log.Put(revKey, data); err != nil {
			return err
		}
		rev = next
		return latest.Put(key, revKey)
	})
	if err != nil {
		return 0, err
	}
	return rev, nil
}

func (r *FileRemote) Pull(ctx context.Context, since uint64, limit uint32) ([]model.Record, error) {
	out := []model.Record{}
	err := r.with(ctx, true, func(tx *bolt.Tx) error {
		c := tx.Bucket(logBucket).Cursor()
		for k, v := c.Seek(binary.BigEndian.AppendUint64(nil, since+1)); k != nil; k, v = c.Next() {
			if uint32(len(out)) == limit {
				break
			}
			var rec model.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode revision %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *FileRemote) with(ctx context.Context, readOnly bool, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := bolt.Open(r.path, 0o600, &bolt.Options{Timeout: r.lockTimeout})
	if err != nil {
		return fmt.Errorf("open remote %s: %w", r.path, err)
	}
	defer db.Close()

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{logBucket, latestBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("init remote: %w", err)
	}

	if readOnly {
		return db.View(fn)
	}
	return db.Update(fn)
}

func remoteRecordKey(id model.RecordID) []byte {
	k := make([]byte, 0, len(id.Type)+len(id.DataID)+1)
	k = append(k, id.Type...)
	k = append(k, 0)
	return append(k, id.DataID...)
}
