package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// nullStringToPointer превращает sql.NullString → *string.
func nullStringToPointer(ns sql.NullString) *string {
	if ns.Valid {
		s := ns.String
		return &s
	}
	return nil
}

// nullTimeToPointer превращает sql.NullTime → *time.Time.
func nullTimeToPointer(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// pointerToNullTime превращает *time.Time → sql.NullTime.
func pointerToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullUUIDToPointer превращает sql.NullString с UUID → *uuid.UUID.
func nullUUIDToPointer(ns sql.NullString) (*uuid.UUID, error) {
	if !ns.Valid {
		return nil, nil
	}
	u, err := uuid.Parse(ns.String)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// uuidPointerToNullString превращает *uuid.UUID → sql.NullString.
func uuidPointerToNullString(u *uuid.UUID) sql.NullString {
	if u == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: u.String(), Valid: true}
}
