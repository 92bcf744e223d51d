package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/roach88/ledgersync/internal/migrate"
)

var (
	metaBucket = []byte("meta")

	paymentsBucket     = []byte("payments")
	metadataBucket     = []byte("payment_metadata")
	lnurlReceiveBucket = []byte("lnurl_receive_metadata")
	depositsBucket     = []byte("unclaimed_deposits")
	settingsBucket     = []byte("settings")
	syncStateBucket    = []byte("sync_state")
	syncOutgoingBucket = []byte("sync_outgoing")
	syncIncomingBucket = []byte("sync_incoming")
	syncRevisionBucket = []byte("sync_revision")

	schemaVersionKey = []byte("schema_version")
	lastRevisionKey  = []byte("last_revision")
)

// migrations returns the ordered schema steps. Append only.
//
//	1 create_payment_buckets
//	2 create_sync_buckets
//	3 backfill_details_type
func migrations() []migrate.Step[*bolt.Tx] {
	return []migrate.Step[*bolt.Tx]{
		{Name: "create_payment_buckets", Up: createBuckets(
			paymentsBucket, metadataBucket, lnurlReceiveBucket, depositsBucket, settingsBucket,
		)},
		{Name: "create_sync_buckets", Up: createBuckets(
			syncStateBucket, syncOutgoingBucket, syncIncomingBucket, syncRevisionBucket,
		)},
		{Name: "backfill_details_type", Up: backfillDetailsType},
	}
}

func createBuckets(names ...[]byte) func(context.Context, *bolt.Tx) error {
	return func(_ context.Context, tx *bolt.Tx) error {
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}
}

// backfillDetailsType stamps the discriminator on documents written before
// it was stored. Undecodable documents are left alone.
func backfillDetailsType(ctx context.Context, tx *bolt.Tx) error {
	b, err := bucket(tx, paymentsBucket)
	if err != nil {
		return err
	}
	updates := map[string][]byte{}
	err = b.ForEach(func(k, v []byte) error {
		var doc paymentDoc
		if json.Unmarshal(v, &doc) != nil || doc.DetailsType != "" {
			return nil
		}
		doc.DetailsType = doc.Payment.Details.Kind()
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		updates[string(k)] = data
		return nil
	})
	if err != nil {
		return err
	}
	for k, v := range updates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Put([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// schema keeps the version in the meta bucket, apart from entity buckets.
type schema struct {
	db *bolt.DB
}

func (s schema) Update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

func (schema) Version(_ context.Context, tx *bolt.Tx) (int, error) {
	return readVersion(tx)
}

func (schema) SetVersion(_ context.Context, tx *bolt.Tx, v int) error {
	b, err := tx.CreateBucketIfNotExists(metaBucket)
	if err != nil {
		return fmt.Errorf("create meta bucket: %w", err)
	}
	return b.Put(schemaVersionKey, encodeUint64(uint64(v)))
}

func readVersion(tx *bolt.Tx) (int, error) {
	b := tx.Bucket(metaBucket)
	if b == nil {
		return 0, nil
	}
	v := b.Get(schemaVersionKey)
	if v == nil {
		return 0, nil
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("corrupt schema version (%d bytes)", len(v))
	}
	return int(binary.BigEndian.Uint64(v)), nil
}
