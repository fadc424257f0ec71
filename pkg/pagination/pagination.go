// Package pagination implements keyset cursors over (created_at, id).
package pagination

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is a page request. An empty Cursor starts from the newest row.
type Params struct {
	Limit  int
	Cursor string
}

// Size clamps Limit into [1, MaxLimit], defaulting to DefaultLimit.
func (p Params) Size() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	}
	return p.Limit
}

// Fetch is the row count to query: one extra row signals a next page.
func (p Params) Fetch() int {
	return p.Size() + 1
}

// Key is the position of the last row on a page.
type Key struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Decode parses the cursor. It returns nil for an empty cursor and a
// VALIDATION_ERROR for a malformed one.
func (p Params) Decode() (*Key, error) {
	raw := strings.TrimSpace(p.Cursor)
	if raw == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	ts, id, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	return &Key{CreatedAt: createdAt, ID: parsedID}, nil
}

// Encode renders k as an opaque, URL-safe cursor.
func (k Key) Encode() string {
	return base64.RawURLEncoding.EncodeToString([]byte(k.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + k.ID.String()))
}

// Trim cuts rows fetched with Fetch down to one page and returns the cursor
// of the next page, or "" when rows was the last page.
func Trim[T any](rows []T, p Params, key func(T) Key) ([]T, string) {
	size := p.Size()
	if len(rows) <= size {
		return rows, ""
	}
	rows = rows[:size]
	return rows, key(rows[size-1]).Encode()
}
