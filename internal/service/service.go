package service

import (
	"context"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/go-ucanto/did"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/storacha/datadao/internal/dao"
	"github.com/storacha/datadao/internal/db/accounts"
	"github.com/storacha/datadao/internal/db/daostate"
	"github.com/storacha/datadao/internal/metrics"
	"github.com/storacha/datadao/internal/store"
)

var log = logging.Logger("service")

// Service is the surface shells call: the content-addressed store plus the
// DAO record keeping, with metric emission on each successful mutation.
// It owns no transport concerns.
type Service struct {
	environment string
	store       *store.Store
	dao         *dao.DAO
}

func New(environment string, objectStore *store.Store, d *dao.DAO) (*Service, error) {
	return &Service{
		environment: environment,
		store:       objectStore,
		dao:         d,
	}, nil
}

func (s *Service) attrs() metric.MeasurementOption {
	return metric.WithAttributeSet(attribute.NewSet(attribute.String("env", s.environment)))
}

// MaxObjectSize returns the store's ingestion limit in bytes.
func (s *Service) MaxObjectSize() int {
	return s.store.MaxSize()
}

// Store ingests data and returns its content identifier.
func (s *Service) Store(ctx context.Context, data []byte) (cid.Cid, error) {
	payload, err := s.store.Put(ctx, data)
	if err != nil {
		return cid.Undef, err
	}

	metrics.ObjectsStored.Add(ctx, 1, s.attrs())
	metrics.BytesStored.Add(ctx, int64(len(data)), s.attrs())

	return payload, nil
}

// Retrieve returns the bytes stored for payload.
func (s *Service) Retrieve(ctx context.Context, payload cid.Cid) ([]byte, error) {
	return s.store.Get(ctx, payload)
}

// Exists reports whether an object is stored for payload.
func (s *Service) Exists(ctx context.Context, payload cid.Cid) (bool, error) {
	return s.store.Exists(ctx, payload)
}

// Account returns the economic state attached to a stored object.
func (s *Service) Account(ctx context.Context, payload cid.Cid) (*accounts.Account, error) {
	return s.store.Account(ctx, payload)
}

// InitDAO initializes the DAO with the given admin.
func (s *Service) InitDAO(ctx context.Context, admin did.DID) error {
	return s.dao.Init(ctx, admin)
}

// AddMember adds a member to the DAO. Admin only.
func (s *Service) AddMember(ctx context.Context, caller did.DID, member did.DID) error {
	return s.dao.AddMember(ctx, caller, member)
}

// SubmitData opens a storage deal for an ingested payload and records it.
// The payload must already be stored; submissions for unknown payloads are
// rejected before the market is involved.
func (s *Service) SubmitData(ctx context.Context, caller did.DID, payload cid.Cid, reward uint64) (uint64, error) {
	exists, err := s.store.Exists(ctx, payload)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, store.NewObjectNotFoundError(payload)
	}

	dealID, err := s.dao.SubmitData(ctx, caller, payload, reward)
	if err != nil {
		return 0, err
	}

	metrics.DealsSubmitted.Add(ctx, 1, s.attrs())
	metrics.UnsettledDeals.Add(ctx, 1, s.attrs())

	return dealID, nil
}

// RewardProvider settles the reward recorded for a deal. Admin only.
func (s *Service) RewardProvider(ctx context.Context, caller did.DID, dealID uint64) error {
	if err := s.dao.RewardProvider(ctx, caller, dealID); err != nil {
		return err
	}

	metrics.RewardsSettled.Add(ctx, 1, s.attrs())
	metrics.UnsettledDeals.Add(ctx, -1, s.attrs())

	return nil
}

// GetRecord returns the data record for a deal id, if any.
func (s *Service) GetRecord(ctx context.Context, dealID uint64) (*daostate.DataRecord, bool, error) {
	return s.dao.GetRecord(ctx, dealID)
}

// GetState returns a read-only snapshot of the DAO state.
func (s *Service) GetState(ctx context.Context) (*daostate.State, error) {
	return s.dao.GetState(ctx)
}
