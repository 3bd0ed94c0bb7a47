package index

import (
	"encoding/json"
	"errors"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when Get is asked for an id not present in the store.
var ErrNotFound = errors.New("index: reference not found")

// ErrDuplicateCanonicalURL is returned by UpsertNew when a processable row
// already carries the same canonical_url, per the partial unique index.
var ErrDuplicateCanonicalURL = errors.New("index: canonical_url already processable")

// ErrStaleTransition is returned by Transition when the row has moved to a
// different stage since the caller read it, so the optimistic-concurrency
// UPDATE affected zero rows.
var ErrStaleTransition = errors.New("index: reference moved before transition committed")

func isUniqueConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	// The cgo-free build tag path surfaces the same condition as a string;
	// fall back to a substring check so UpsertNew still classifies it.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalReasons(reasons []string) (string, error) {
	if len(reasons) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(reasons)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
