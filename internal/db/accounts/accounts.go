package accounts

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

var ErrNotFound = errors.New("account not found")

// Account is the economic state attached to a stored object. Subaccounts
// hold balances keyed by an opaque name (settlement uses the provider DID).
type Account struct {
	Payload     cid.Cid
	Balance     uint64
	Subaccounts map[string]uint64
}

// AccountTable keeps one Account per stored object. Init is idempotent:
// an account that already exists is left untouched.
type AccountTable interface {
	Init(ctx context.Context, payload cid.Cid) error
	Get(ctx context.Context, payload cid.Cid) (*Account, error)
	Credit(ctx context.Context, payload cid.Cid, subaccount string, amount uint64) error
}
