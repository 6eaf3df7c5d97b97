package dao

import (
	"context"
	"fmt"
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/storacha/go-ucanto/did"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storacha/datadao/internal/db/accounts"
	"github.com/storacha/datadao/internal/db/daostate"
	"github.com/storacha/datadao/internal/market"
)

type mockGateway struct {
	initiateDealFunc  func(ctx context.Context, payload cid.Cid, reward uint64) (market.Deal, error)
	transferFundsFunc func(ctx context.Context, provider did.DID, amount uint64) error
}

func (m *mockGateway) InitiateDeal(ctx context.Context, payload cid.Cid, reward uint64) (market.Deal, error) {
	if m.initiateDealFunc != nil {
		return m.initiateDealFunc(ctx, payload, reward)
	}
	return market.Deal{}, fmt.Errorf("not implemented")
}

func (m *mockGateway) TransferFunds(ctx context.Context, provider did.DID, amount uint64) error {
	if m.transferFundsFunc != nil {
		return m.transferFundsFunc(ctx, provider, amount)
	}
	return fmt.Errorf("not implemented")
}

var _ market.Gateway = (*mockGateway)(nil)

type failingAccountTable struct {
	accounts.AccountTable
	creditErr error
}

func (f *failingAccountTable) Credit(ctx context.Context, payload cid.Cid, subaccount string, amount uint64) error {
	return f.creditErr
}

func testDID(t *testing.T, s string) did.DID {
	t.Helper()
	d, err := did.Parse(s)
	require.NoError(t, err)
	return d
}

func testCID(t *testing.T, data string) cid.Cid {
	t.Helper()
	digest, err := mh.Sum([]byte(data), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(uint64(cid.Raw), digest)
}

type fixture struct {
	dao          *DAO
	stateTable   *daostate.MemoryStateTable
	accountTable *accounts.MemoryAccountTable
	gateway      *mockGateway
	admin        did.DID
	member       did.DID
	outsider     did.DID
	provider     did.DID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		stateTable:   daostate.NewMemoryStateTable(),
		accountTable: accounts.NewMemoryAccountTable(),
		gateway:      &mockGateway{},
		admin:        testDID(t, "did:web:admin.example.com"),
		member:       testDID(t, "did:web:member.example.com"),
		outsider:     testDID(t, "did:web:outsider.example.com"),
		provider:     testDID(t, "did:web:provider.example.com"),
	}
	f.dao = New(f.stateTable, f.accountTable, f.gateway)
	return f
}

func (f *fixture) init(t *testing.T) {
	t.Helper()
	require.NoError(t, f.dao.Init(context.Background(), f.admin))
}

func (f *fixture) state(t *testing.T) *daostate.State {
	t.Helper()
	state, err := f.stateTable.Get(context.Background())
	require.NoError(t, err)
	return state
}

func TestInit(t *testing.T) {
	t.Run("creates a zeroed state", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)

		state := f.state(t)
		assert.Equal(t, f.admin, state.Admin)
		assert.Empty(t, state.Members)
		assert.Empty(t, state.Records)
		assert.Equal(t, uint64(0), state.TotalPledged)
		assert.Equal(t, uint64(0), state.TotalPaid)
	})

	t.Run("fails on double initialization", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)

		err := f.dao.Init(context.Background(), f.outsider)
		require.Error(t, err)

		var alreadyInit AlreadyInitializedError
		require.ErrorAs(t, err, &alreadyInit)
		assert.Equal(t, f.admin, alreadyInit.Admin)

		// original admin is untouched
		assert.Equal(t, f.admin, f.state(t).Admin)
	})
}

func TestAddMember(t *testing.T) {
	t.Run("admin can add a member", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)

		require.NoError(t, f.dao.AddMember(context.Background(), f.admin, f.member))
		assert.True(t, f.state(t).IsMember(f.member))
	})

	t.Run("adding an existing member is a no-op", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)

		require.NoError(t, f.dao.AddMember(context.Background(), f.admin, f.member))
		require.NoError(t, f.dao.AddMember(context.Background(), f.admin, f.member))
		assert.Len(t, f.state(t).Members, 1)
	})

	t.Run("non-admin is rejected and state is unchanged", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)

		err := f.dao.AddMember(context.Background(), f.outsider, f.member)
		require.Error(t, err)

		var unauthorized UnauthorizedError
		require.ErrorAs(t, err, &unauthorized)
		assert.Equal(t, f.outsider, unauthorized.Caller)
		assert.Empty(t, f.state(t).Members)
	})
}

func TestSubmitData(t *testing.T) {
	payloadCID := func(t *testing.T) cid.Cid { return testCID(t, "hello") }

	t.Run("member submission records the deal", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)
		require.NoError(t, f.dao.AddMember(context.Background(), f.admin, f.member))

		f.gateway.initiateDealFunc = func(ctx context.Context, payload cid.Cid, reward uint64) (market.Deal, error) {
			assert.Equal(t, payloadCID(t), payload)
			assert.Equal(t, uint64(100), reward)
			return market.Deal{ID: 42, Provider: f.provider}, nil
		}

		dealID, err := f.dao.SubmitData(context.Background(), f.member, payloadCID(t), 100)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), dealID)

		state := f.state(t)
		require.Len(t, state.Records, 1)
		record := state.Records[0]
		assert.Equal(t, payloadCID(t), record.Payload)
		assert.Equal(t, uint64(42), record.DealID)
		assert.Equal(t, f.provider, record.Provider)
		assert.Equal(t, uint64(100), record.Reward)
		assert.False(t, record.Settled)
		assert.Equal(t, uint64(100), state.TotalPledged)
		assert.Equal(t, uint64(0), state.TotalPaid)
	})

	t.Run("admin may submit without membership", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)

		f.gateway.initiateDealFunc = func(ctx context.Context, payload cid.Cid, reward uint64) (market.Deal, error) {
			return market.Deal{ID: 1, Provider: f.provider}, nil
		}

		_, err := f.dao.SubmitData(context.Background(), f.admin, payloadCID(t), 50)
		require.NoError(t, err)
	})

	t.Run("outsider is rejected before the gateway is called", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)

		called := false
		f.gateway.initiateDealFunc = func(ctx context.Context, payload cid.Cid, reward uint64) (market.Deal, error) {
			called = true
			return market.Deal{ID: 1, Provider: f.provider}, nil
		}

		_, err := f.dao.SubmitData(context.Background(), f.outsider, payloadCID(t), 100)
		require.Error(t, err)

		var unauthorized UnauthorizedError
		require.ErrorAs(t, err, &unauthorized)
		assert.False(t, called)
	})

	t.Run("gateway rejection leaves state unchanged", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)

		f.gateway.initiateDealFunc = func(ctx context.Context, payload cid.Cid, reward uint64) (market.Deal, error) {
			return market.Deal{}, market.NewDealRejectedError(payload, fmt.Errorf("no provider available"))
		}

		_, err := f.dao.SubmitData(context.Background(), f.admin, payloadCID(t), 100)
		require.Error(t, err)

		var rejected market.DealRejectedError
		require.ErrorAs(t, err, &rejected)

		state := f.state(t)
		assert.Empty(t, state.Records)
		assert.Equal(t, uint64(0), state.TotalPledged)
	})

	t.Run("reused deal id is rejected without persisting", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)

		f.gateway.initiateDealFunc = func(ctx context.Context, payload cid.Cid, reward uint64) (market.Deal, error) {
			return market.Deal{ID: 42, Provider: f.provider}, nil
		}

		_, err := f.dao.SubmitData(context.Background(), f.admin, payloadCID(t), 100)
		require.NoError(t, err)

		_, err = f.dao.SubmitData(context.Background(), f.admin, testCID(t, "other"), 100)
		require.Error(t, err)

		state := f.state(t)
		assert.Len(t, state.Records, 1)
		assert.Equal(t, uint64(100), state.TotalPledged)
	})
}

func TestRewardProvider(t *testing.T) {
	submit := func(t *testing.T, f *fixture, payload cid.Cid, reward uint64, dealID uint64) {
		t.Helper()
		f.gateway.initiateDealFunc = func(ctx context.Context, p cid.Cid, r uint64) (market.Deal, error) {
			return market.Deal{ID: dealID, Provider: f.provider}, nil
		}
		_, err := f.dao.SubmitData(context.Background(), f.admin, payload, reward)
		require.NoError(t, err)
	}

	t.Run("settles the deal once", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)
		payload := testCID(t, "hello")
		require.NoError(t, f.accountTable.Init(context.Background(), payload))
		submit(t, f, payload, 100, 42)

		transfers := 0
		f.gateway.transferFundsFunc = func(ctx context.Context, provider did.DID, amount uint64) error {
			transfers++
			assert.Equal(t, f.provider, provider)
			assert.Equal(t, uint64(100), amount)
			return nil
		}

		require.NoError(t, f.dao.RewardProvider(context.Background(), f.admin, 42))
		assert.Equal(t, 1, transfers)

		state := f.state(t)
		assert.True(t, state.Records[0].Settled)
		assert.False(t, state.Records[0].SettledAt.IsZero())
		assert.Equal(t, uint64(100), state.TotalPaid)

		// settlement credits the object's account under the provider
		account, err := f.accountTable.Get(context.Background(), payload)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), account.Balance)
		assert.Equal(t, uint64(100), account.Subaccounts[f.provider.String()])
	})

	t.Run("second settlement fails with AlreadySettled and pays once", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)
		payload := testCID(t, "hello")
		require.NoError(t, f.accountTable.Init(context.Background(), payload))
		submit(t, f, payload, 100, 42)

		transfers := 0
		f.gateway.transferFundsFunc = func(ctx context.Context, provider did.DID, amount uint64) error {
			transfers++
			return nil
		}

		require.NoError(t, f.dao.RewardProvider(context.Background(), f.admin, 42))

		err := f.dao.RewardProvider(context.Background(), f.admin, 42)
		require.Error(t, err)

		var settled AlreadySettledError
		require.ErrorAs(t, err, &settled)
		assert.Equal(t, uint64(42), settled.DealID)

		assert.Equal(t, 1, transfers)
		assert.Equal(t, uint64(100), f.state(t).TotalPaid)
	})

	t.Run("non-admin is rejected and nothing is transferred", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)
		submit(t, f, testCID(t, "hello"), 100, 42)

		called := false
		f.gateway.transferFundsFunc = func(ctx context.Context, provider did.DID, amount uint64) error {
			called = true
			return nil
		}

		err := f.dao.RewardProvider(context.Background(), f.outsider, 42)
		require.Error(t, err)

		var unauthorized UnauthorizedError
		require.ErrorAs(t, err, &unauthorized)
		assert.False(t, called)
		assert.Equal(t, uint64(0), f.state(t).TotalPaid)
	})

	t.Run("unknown deal id", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)

		err := f.dao.RewardProvider(context.Background(), f.admin, 99)
		require.Error(t, err)

		var notFound RecordNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, uint64(99), notFound.DealID)
	})

	t.Run("credit failure keeps the settlement and pays once", func(t *testing.T) {
		f := newFixture(t)
		f.dao = New(f.stateTable, &failingAccountTable{
			AccountTable: f.accountTable,
			creditErr:    fmt.Errorf("throughput exceeded"),
		}, f.gateway)
		f.init(t)
		payload := testCID(t, "hello")
		require.NoError(t, f.accountTable.Init(context.Background(), payload))
		submit(t, f, payload, 100, 42)

		transfers := 0
		f.gateway.transferFundsFunc = func(ctx context.Context, provider did.DID, amount uint64) error {
			transfers++
			return nil
		}

		// the transfer happened, so the settlement sticks even though the
		// account ledger was not credited
		require.NoError(t, f.dao.RewardProvider(context.Background(), f.admin, 42))

		state := f.state(t)
		assert.True(t, state.Records[0].Settled)
		assert.Equal(t, uint64(100), state.TotalPaid)

		account, err := f.accountTable.Get(context.Background(), payload)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), account.Balance)

		// a retry must not transfer again
		err = f.dao.RewardProvider(context.Background(), f.admin, 42)
		var settled AlreadySettledError
		require.ErrorAs(t, err, &settled)
		assert.Equal(t, 1, transfers)
	})

	t.Run("transfer failure leaves the record unsettled", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)
		submit(t, f, testCID(t, "hello"), 100, 42)

		f.gateway.transferFundsFunc = func(ctx context.Context, provider did.DID, amount uint64) error {
			return market.NewTransferFailedError(provider, amount, fmt.Errorf("provider account missing"))
		}

		err := f.dao.RewardProvider(context.Background(), f.admin, 42)
		require.Error(t, err)

		var failed market.TransferFailedError
		require.ErrorAs(t, err, &failed)

		state := f.state(t)
		assert.False(t, state.Records[0].Settled)
		assert.Equal(t, uint64(0), state.TotalPaid)

		// a later retry by the caller still works
		f.gateway.transferFundsFunc = func(ctx context.Context, provider did.DID, amount uint64) error {
			return nil
		}
		require.NoError(t, f.dao.RewardProvider(context.Background(), f.admin, 42))
	})
}

func TestGetRecord(t *testing.T) {
	t.Run("returns the matching record", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)

		f.gateway.initiateDealFunc = func(ctx context.Context, payload cid.Cid, reward uint64) (market.Deal, error) {
			return market.Deal{ID: 42, Provider: f.provider}, nil
		}
		_, err := f.dao.SubmitData(context.Background(), f.admin, testCID(t, "hello"), 100)
		require.NoError(t, err)

		record, ok, err := f.dao.GetRecord(context.Background(), 42)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(42), record.DealID)
	})

	t.Run("absent record is not an error", func(t *testing.T) {
		f := newFixture(t)
		f.init(t)

		record, ok, err := f.dao.GetRecord(context.Background(), 99)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, record)
	})

	t.Run("works before initialization", func(t *testing.T) {
		f := newFixture(t)

		record, ok, err := f.dao.GetRecord(context.Background(), 1)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, record)
	})
}
