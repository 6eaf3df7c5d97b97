package daostate

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/storacha/go-ucanto/did"
)

var ErrNotFound = errors.New("DAO state not found")

// DataRecord links a stored payload to the storage deal negotiated for it.
// Immutable once created, except for the one-time settlement marker.
type DataRecord struct {
	Payload   cid.Cid
	DealID    uint64
	Provider  did.DID
	Reward    uint64
	Settled   bool
	SettledAt time.Time
}

// State is the single authoritative DAO record. Membership is a set; Records
// keeps submission order. TotalPledged sums every recorded reward,
// TotalPaid only the settled ones.
type State struct {
	Admin        did.DID
	Members      []did.DID
	Records      []DataRecord
	TotalPledged uint64
	TotalPaid    uint64
}

// IsMember reports whether id is in the member set. Admin authority is
// independent of membership.
func (s *State) IsMember(id did.DID) bool {
	return slices.Contains(s.Members, id)
}

// FindRecord returns the index of the record with the given deal id, or -1.
func (s *State) FindRecord(dealID uint64) int {
	return slices.IndexFunc(s.Records, func(r DataRecord) bool {
		return r.DealID == dealID
	})
}

// StateTable persists the DAO state as a single row. Get returns ErrNotFound
// before the first Put.
type StateTable interface {
	Get(ctx context.Context) (*State, error)
	Put(ctx context.Context, state *State) error
}
