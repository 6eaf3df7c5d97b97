package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	mh "github.com/multiformats/go-multihash"

	"github.com/storacha/datadao/internal/db/accounts"
	"github.com/storacha/datadao/internal/db/objects"
)

var log = logging.Logger("store")

// DefaultCodec tags payloads as raw binary.
const DefaultCodec = cid.Raw

type PayloadTooLargeError struct {
	Size  int
	Limit int
}

func NewPayloadTooLargeError(size, limit int) PayloadTooLargeError {
	return PayloadTooLargeError{Size: size, Limit: limit}
}

func (e PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload of %d bytes exceeds the %d byte limit", e.Size, e.Limit)
}

type ObjectNotFoundError struct {
	Payload cid.Cid
}

func NewObjectNotFoundError(payload cid.Cid) ObjectNotFoundError {
	return ObjectNotFoundError{Payload: payload}
}

func (e ObjectNotFoundError) Error() string {
	return fmt.Sprintf("no object stored for %s", e.Payload)
}

// DeriveCID computes the content identifier for data under the given codec:
// a CIDv1 over a sha2-256 multihash. Deterministic and total, including for
// empty input.
func DeriveCID(codec uint64, data []byte) (cid.Cid, error) {
	digest, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("hashing payload: %w", err)
	}
	return cid.NewCidV1(codec, digest), nil
}

// Store is a content-addressed object store. Every stored object gets a
// zeroed account alongside it. The size limit is fixed at construction.
type Store struct {
	objectTable  objects.ObjectTable
	accountTable accounts.AccountTable
	codec        uint64
	maxSize      int
}

func New(objectTable objects.ObjectTable, accountTable accounts.AccountTable, maxSize int) *Store {
	return &Store{
		objectTable:  objectTable,
		accountTable: accountTable,
		codec:        uint64(DefaultCodec),
		maxSize:      maxSize,
	}
}

// MaxSize returns the ingestion limit in bytes.
func (s *Store) MaxSize() int {
	return s.maxSize
}

// Put stores data and returns its content identifier. The size gate runs
// before hashing so oversized payloads are rejected without digest work.
// Idempotent for identical input.
func (s *Store) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if len(data) > s.maxSize {
		return cid.Undef, NewPayloadTooLargeError(len(data), s.maxSize)
	}

	payload, err := DeriveCID(s.codec, data)
	if err != nil {
		return cid.Undef, err
	}

	// The account row goes in first so a stored object is never observable
	// without its account. Readers key off the object row.
	if err := s.accountTable.Init(ctx, payload); err != nil {
		return cid.Undef, fmt.Errorf("initializing account for %s: %w", payload, err)
	}

	if err := s.objectTable.Put(ctx, payload, data); err != nil {
		return cid.Undef, fmt.Errorf("storing object %s: %w", payload, err)
	}

	log.Debugw("stored object", "cid", payload, "size", len(data))
	return payload, nil
}

// Get returns the bytes stored for payload.
func (s *Store) Get(ctx context.Context, payload cid.Cid) ([]byte, error) {
	data, err := s.objectTable.Get(ctx, payload)
	if err != nil {
		if errors.Is(err, objects.ErrNotFound) {
			return nil, NewObjectNotFoundError(payload)
		}
		return nil, err
	}
	return data, nil
}

// Exists reports whether an object is stored for payload.
func (s *Store) Exists(ctx context.Context, payload cid.Cid) (bool, error) {
	return s.objectTable.Has(ctx, payload)
}

// Account returns the economic state attached to a stored object.
func (s *Store) Account(ctx context.Context, payload cid.Cid) (*accounts.Account, error) {
	account, err := s.accountTable.Get(ctx, payload)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return nil, NewObjectNotFoundError(payload)
		}
		return nil, err
	}
	return account, nil
}
