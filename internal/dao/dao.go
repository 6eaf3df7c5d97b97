package dao

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/go-ucanto/did"

	"github.com/storacha/datadao/internal/db/accounts"
	"github.com/storacha/datadao/internal/db/daostate"
	"github.com/storacha/datadao/internal/market"
)

var log = logging.Logger("dao")

type UnauthorizedError struct {
	Caller did.DID
	Op     string
}

func NewUnauthorizedError(caller did.DID, op string) UnauthorizedError {
	return UnauthorizedError{Caller: caller, Op: op}
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("%s is not allowed to %s", e.Caller, e.Op)
}

type RecordNotFoundError struct {
	DealID uint64
}

func NewRecordNotFoundError(dealID uint64) RecordNotFoundError {
	return RecordNotFoundError{DealID: dealID}
}

func (e RecordNotFoundError) Error() string {
	return fmt.Sprintf("no data record for deal %d", e.DealID)
}

type AlreadySettledError struct {
	DealID    uint64
	SettledAt time.Time
}

func NewAlreadySettledError(dealID uint64, settledAt time.Time) AlreadySettledError {
	return AlreadySettledError{DealID: dealID, SettledAt: settledAt}
}

func (e AlreadySettledError) Error() string {
	return fmt.Sprintf("deal %d was already settled at %s", e.DealID, e.SettledAt.Format(time.RFC3339))
}

type AlreadyInitializedError struct {
	Admin did.DID
}

func NewAlreadyInitializedError(admin did.DID) AlreadyInitializedError {
	return AlreadyInitializedError{Admin: admin}
}

func (e AlreadyInitializedError) Error() string {
	return fmt.Sprintf("DAO is already initialized with admin %s", e.Admin)
}

// DAO is the record-keeping state machine tying stored objects to storage
// deals and the rewards owed for them. Every mutation is a read-modify-
// persist over the whole state, serialized by a single mutex, and the state
// is written only after the gateway call (the one external effect) has
// succeeded. That ordering is what makes submissions and settlements
// all-or-nothing.
type DAO struct {
	mu           sync.Mutex
	stateTable   daostate.StateTable
	accountTable accounts.AccountTable
	gateway      market.Gateway
	clock        func() time.Time
}

func New(stateTable daostate.StateTable, accountTable accounts.AccountTable, gateway market.Gateway) *DAO {
	return &DAO{
		stateTable:   stateTable,
		accountTable: accountTable,
		gateway:      gateway,
		clock:        time.Now,
	}
}

// Init creates the DAO state with the given admin, no members, no records
// and zeroed totals. Fails if a state already exists.
func (d *DAO) Init(ctx context.Context, admin did.DID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.stateTable.Get(ctx)
	if err != nil && !errors.Is(err, daostate.ErrNotFound) {
		return err
	}
	if existing != nil {
		return NewAlreadyInitializedError(existing.Admin)
	}

	state := &daostate.State{Admin: admin}
	if err := d.stateTable.Put(ctx, state); err != nil {
		return err
	}

	log.Infow("DAO initialized", "admin", admin)
	return nil
}

// AddMember adds member to the member set. Admin only. Adding an existing
// member is a no-op.
func (d *DAO) AddMember(ctx context.Context, caller did.DID, member did.DID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, err := d.stateTable.Get(ctx)
	if err != nil {
		return err
	}

	if caller != state.Admin {
		return NewUnauthorizedError(caller, "add members")
	}

	if state.IsMember(member) {
		return nil
	}

	state.Members = append(state.Members, member)
	if err := d.stateTable.Put(ctx, state); err != nil {
		return err
	}

	log.Infow("member added", "member", member, "members", len(state.Members))
	return nil
}

// SubmitData initiates a storage deal for payload and records the outcome.
// Callable by the admin or any member. Nothing is persisted when the
// gateway rejects the deal.
func (d *DAO) SubmitData(ctx context.Context, caller did.DID, payload cid.Cid, reward uint64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, err := d.stateTable.Get(ctx)
	if err != nil {
		return 0, err
	}

	if caller != state.Admin && !state.IsMember(caller) {
		return 0, NewUnauthorizedError(caller, "submit data")
	}

	deal, err := d.gateway.InitiateDeal(ctx, payload, reward)
	if err != nil {
		return 0, err
	}

	// Deal ids are assigned by the market and assumed unique; a collision
	// means a misbehaving gateway and must not corrupt the record list.
	if state.FindRecord(deal.ID) >= 0 {
		return 0, market.NewDealRejectedError(payload, fmt.Errorf("market reused deal id %d", deal.ID))
	}

	state.Records = append(state.Records, daostate.DataRecord{
		Payload:  payload,
		DealID:   deal.ID,
		Provider: deal.Provider,
		Reward:   reward,
	})
	state.TotalPledged += reward

	if err := d.stateTable.Put(ctx, state); err != nil {
		return 0, err
	}

	log.Infow("data submitted", "payload", payload, "deal", deal.ID, "provider", deal.Provider, "reward", reward)
	return deal.ID, nil
}

// RewardProvider pays out the reward recorded for a deal. Admin only, and
// exactly once per deal: repeat calls fail with AlreadySettledError. The
// paid amount is also credited to the payload's account under the provider's
// sub-account; a failed credit never unsettles the record, it only leaves
// the account ledger behind until the row is reconciled by hand.
func (d *DAO) RewardProvider(ctx context.Context, caller did.DID, dealID uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, err := d.stateTable.Get(ctx)
	if err != nil {
		return err
	}

	if caller != state.Admin {
		return NewUnauthorizedError(caller, "reward providers")
	}

	idx := state.FindRecord(dealID)
	if idx < 0 {
		return NewRecordNotFoundError(dealID)
	}

	record := state.Records[idx]
	if record.Settled {
		return NewAlreadySettledError(dealID, record.SettledAt)
	}

	if err := d.gateway.TransferFunds(ctx, record.Provider, record.Reward); err != nil {
		return err
	}

	state.Records[idx].Settled = true
	state.Records[idx].SettledAt = d.clock().UTC()
	state.TotalPaid += record.Reward

	if err := d.stateTable.Put(ctx, state); err != nil {
		return err
	}

	// The ledger credit is attributable to the object the deal stored. It
	// runs after the state write: the transfer has already happened, so the
	// settlement must stay recorded even when the credit fails. Re-running
	// the transfer on retry would pay the provider twice.
	if err := d.accountTable.Credit(ctx, record.Payload, record.Provider.String(), record.Reward); err != nil {
		log.Errorw("crediting account after settlement", "payload", record.Payload, "deal", dealID, "error", err)
	}

	log.Infow("provider rewarded", "deal", dealID, "provider", record.Provider, "amount", record.Reward)
	return nil
}

// GetRecord returns the data record for a deal id. Read-only, no
// authorization; a missing record is not an error.
func (d *DAO) GetRecord(ctx context.Context, dealID uint64) (*daostate.DataRecord, bool, error) {
	state, err := d.stateTable.Get(ctx)
	if err != nil {
		if errors.Is(err, daostate.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	idx := state.FindRecord(dealID)
	if idx < 0 {
		return nil, false, nil
	}

	record := state.Records[idx]
	return &record, true, nil
}

// GetState returns a read-only snapshot of the DAO state.
func (d *DAO) GetState(ctx context.Context) (*daostate.State, error) {
	return d.stateTable.Get(ctx)
}
