package boltstore

import (
	"context"

	"github.com/boltdb/bolt"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
)

func (s *Store) GetCachedItem(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := s.view(ctx, "get cached item", key, func(tx *bolt.Tx) error {
		if v := tx.Bucket(settingsBucket).Get([]byte(key)); v != nil {
			value, ok = string(v), true
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, ok, nil
}

func (s *Store) SetCachedItem(ctx context.Context, key, value string) error {
	const op = "set cached item"
	if key == "" {
		return store.NewValidation(op, key, &model.ValidationError{Field: "key", Reason: "must not be empty"})
	}
	return s.update(ctx, op, key, func(tx *bolt.Tx) error {
		b, err := bucket(tx, settingsBucket)
		if err != nil {
			return err
		}
		// bolt treats a nil value as absent; store empty strings as a zero-length slice.
		return b.Put([]byte(key), append([]byte{}, value...))
	})
}

func (s *Store) DeleteCachedItem(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.update(ctx, "delete cached item", key, func(tx *bolt.Tx) error {
		b, err := bucket(tx, settingsBucket)
		if err != nil {
			return err
		}
		return b.Delete([]byte(key))
	})
}
