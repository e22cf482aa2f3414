// Package bundlestore keeps named backup bundles on local disk or in a
// MinIO/S3 bucket.
package bundlestore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgermigrate/internal/core"
)

const extension = ".json"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Info describes one stored bundle.
type Info struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Store persists serialized bundles by name. Load of an unknown name
// returns an error wrapping core.ErrNotFound.
type Store interface {
	Save(ctx context.Context, name string, data []byte) (Info, error)
	Load(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]Info, error)
}

// DefaultName returns a timestamped bundle name.
func DefaultName(t time.Time) string {
	return "backup-" + t.UTC().Format("20060102T150405Z")
}

// normalizeName strips an optional .json suffix and validates the rest.
func normalizeName(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), extension)
	if !validName.MatchString(name) {
		return "", fmt.Errorf("%w: invalid bundle name %q", core.ErrInvalidRequest, name)
	}
	return name, nil
}
