// Package archive stores rendered cycle statements outside the database.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidKey is returned for empty or escaping object keys.
var ErrInvalidKey = errors.New("archive: invalid key")

// Store puts immutable statement documents.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// StatementKey returns the object key of a cycle statement.
func StatementKey(merchantID, cycleID, ext string) string {
	return fmt.Sprintf("statements/%s/%s.%s", merchantID, cycleID, strings.TrimPrefix(ext, "."))
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	clean := path.Clean(key)
	if clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return ErrInvalidKey
	}
	return nil
}
