package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// marshalOptional converts v to JSON TEXT, or NULL when v is nil.
func marshalOptional[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal %T: %w", v, err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalOptional decodes JSON TEXT, returning nil for NULL.
func unmarshalOptional[T any](col sql.NullString) (*T, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return &v, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(col sql.NullString) *string {
	if !col.Valid {
		return nil
	}
	s := col.String
	return &s
}
