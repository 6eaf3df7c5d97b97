package objects

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

var ErrNotFound = errors.New("object not found")

// ErrDigestMismatch is returned when a put would overwrite an existing key
// with different bytes. Not expected under a secure digest.
var ErrDigestMismatch = errors.New("existing object has different bytes for the same CID")

// ObjectTable stores raw payloads keyed by their content identifier.
// Put is idempotent for identical bytes.
type ObjectTable interface {
	Put(ctx context.Context, payload cid.Cid, data []byte) error
	Get(ctx context.Context, payload cid.Cid) ([]byte, error)
	Has(ctx context.Context, payload cid.Cid) (bool, error)
}
