// Package docstore is the boundary to the hierarchical document store that
// lightweight clients read from. Paths are slash separated, e.g.
// "locations/abc" or "user_locations/u1/abc".
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// TxFunc receives the raw JSON currently stored at the path ("null" when
// absent) and returns the value to store. Returning an error aborts the
// transaction and nothing is written. It may be called more than once.
type TxFunc func(current json.RawMessage) (any, error)

type Store interface {
	// Get decodes the value at path into dest. A missing value is a not-found error.
	Get(ctx context.Context, path string, dest any) error
	// Set replaces the value at path. Setting nil removes it.
	Set(ctx context.Context, path string, value any) error
	// Update sets each child of path named in fields, leaving other children as they are.
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	// QueryEqual decodes into dest (a map keyed by child id) every child of path
	// whose field named child equals value. No match leaves dest empty.
	QueryEqual(ctx context.Context, path, child string, value any, dest any) error
	// Transaction performs a compare-and-swap write at path.
	Transaction(ctx context.Context, path string, fn TxFunc) error
}

const (
	LocationsRoot     = "locations"
	UserLocationsRoot = "user_locations"
	UsersRoot         = "users"
)

func LocationPath(id string) string {
	return Join(LocationsRoot, id)
}

func UserLocationsPath(userID string) string {
	return Join(UserLocationsRoot, userID)
}

func UserLocationPath(userID, locationID string) string {
	return Join(UserLocationsRoot, userID, locationID)
}

func ProfilePath(userID string) string {
	return Join(UsersRoot, userID, "profile")
}

func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Split returns the non-empty segments of path.
func Split(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// validKey mirrors the characters the hosted store refuses in keys.
func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty path segment")
	}
	if strings.ContainsAny(key, ".#$[]") {
		return fmt.Errorf("path segment %q contains a forbidden character", key)
	}
	return nil
}
