package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/go-ucanto/did"
)

var log = logging.Logger("market")

var _ Gateway = (*HTTPGateway)(nil)

// HTTPGateway talks to an external market service over plain JSON. Requests
// are bounded by the client timeout in addition to the caller's context;
// a timeout surfaces as a gateway failure.
type HTTPGateway struct {
	endpoint        *url.URL
	defaultProvider did.DID
	httpClient      *http.Client
}

func NewHTTPGateway(endpoint *url.URL, defaultProvider did.DID) *HTTPGateway {
	return &HTTPGateway{
		endpoint:        endpoint,
		defaultProvider: defaultProvider,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
	}
}

type initiateDealRequest struct {
	Payload string `json:"payload"`
	Reward  uint64 `json:"reward"`
}

type initiateDealResponse struct {
	DealID   uint64 `json:"dealID"`
	Provider string `json:"provider,omitempty"`
}

type transferFundsRequest struct {
	Provider string `json:"provider"`
	Amount   uint64 `json:"amount"`
}

func (g *HTTPGateway) InitiateDeal(ctx context.Context, payload cid.Cid, reward uint64) (Deal, error) {
	var resp initiateDealResponse
	err := g.post(ctx, "deals", initiateDealRequest{
		Payload: payload.String(),
		Reward:  reward,
	}, &resp)
	if err != nil {
		return Deal{}, NewDealRejectedError(payload, err)
	}

	// Markets that don't pick the provider at initiation time leave it out
	// of the response and the configured default applies.
	provider := g.defaultProvider
	if resp.Provider != "" {
		provider, err = did.Parse(resp.Provider)
		if err != nil {
			return Deal{}, NewDealRejectedError(payload, fmt.Errorf("parsing provider DID: %w", err))
		}
	}

	log.Debugw("deal initiated", "payload", payload, "deal", resp.DealID, "provider", provider)
	return Deal{ID: resp.DealID, Provider: provider}, nil
}

func (g *HTTPGateway) TransferFunds(ctx context.Context, provider did.DID, amount uint64) error {
	err := g.post(ctx, "transfers", transferFundsRequest{
		Provider: provider.String(),
		Amount:   amount,
	}, nil)
	if err != nil {
		return NewTransferFailedError(provider, amount, err)
	}

	log.Debugw("funds transferred", "provider", provider, "amount", amount)
	return nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, reqBody any, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("serializing request: %w", err)
	}

	target := g.endpoint.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling market endpoint %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status code from market: %d", resp.StatusCode)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decoding market response: %w", err)
		}
	}

	return nil
}
