package market

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/storacha/go-ucanto/did"
)

// Deal is the outcome of a successful deal initiation. IDs are assigned by
// the market and treated as opaque.
type Deal struct {
	ID       uint64
	Provider did.DID
}

// Gateway is the settlement boundary: deal initiation and fund transfer are
// the only external effects the DAO performs. Implementations must bound
// both calls by the passed context; callers never retry.
type Gateway interface {
	InitiateDeal(ctx context.Context, payload cid.Cid, reward uint64) (Deal, error)
	TransferFunds(ctx context.Context, provider did.DID, amount uint64) error
}

type DealRejectedError struct {
	Payload cid.Cid
	Cause   error
}

func NewDealRejectedError(payload cid.Cid, cause error) DealRejectedError {
	return DealRejectedError{Payload: payload, Cause: cause}
}

func (e DealRejectedError) Error() string {
	return fmt.Sprintf("market rejected deal for %s: %v", e.Payload, e.Cause)
}

func (e DealRejectedError) Unwrap() error {
	return e.Cause
}

type TransferFailedError struct {
	Provider did.DID
	Amount   uint64
	Cause    error
}

func NewTransferFailedError(provider did.DID, amount uint64, cause error) TransferFailedError {
	return TransferFailedError{Provider: provider, Amount: amount, Cause: cause}
}

func (e TransferFailedError) Error() string {
	return fmt.Sprintf("transferring %d to %s failed: %v", e.Amount, e.Provider, e.Cause)
}

func (e TransferFailedError) Unwrap() error {
	return e.Cause
}
