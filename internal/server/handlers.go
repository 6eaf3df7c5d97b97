package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/storacha/go-ucanto/did"

	"github.com/storacha/datadao/internal/build"
	"github.com/storacha/datadao/internal/dao"
	"github.com/storacha/datadao/internal/db/daostate"
	"github.com/storacha/datadao/internal/market"
	"github.com/storacha/datadao/internal/store"
)

func (s *Server) getRootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "🗃️ datadao %s\n", build.Version)
		fmt.Fprint(w, "- https://github.com/storacha/datadao\n")
	}
}

func (s *Server) postDataHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// read one byte past the gate so oversized bodies still get a 413
		// instead of being silently truncated
		data, err := io.ReadAll(io.LimitReader(r.Body, int64(s.svc.MaxObjectSize())+1))
		if err != nil {
			http.Error(w, "reading request body", http.StatusBadRequest)
			return
		}

		payload, err := s.svc.Store(r.Context(), data)
		if err != nil {
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]string{"cid": payload.String()})
	}
}

func (s *Server) getDataHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := cid.Decode(r.PathValue("cid"))
		if err != nil {
			http.Error(w, "invalid CID", http.StatusBadRequest)
			return
		}

		data, err := s.svc.Retrieve(r.Context(), payload)
		if err != nil {
			s.writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		if _, err := w.Write(data); err != nil {
			log.Errorf("sending object: %s", err)
		}
	}
}

func (s *Server) getAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := cid.Decode(r.PathValue("cid"))
		if err != nil {
			http.Error(w, "invalid CID", http.StatusBadRequest)
			return
		}

		account, err := s.svc.Account(r.Context(), payload)
		if err != nil {
			s.writeError(w, err)
			return
		}

		writeJSON(w, map[string]any{
			"cid":         account.Payload.String(),
			"balance":     account.Balance,
			"subaccounts": account.Subaccounts,
		})
	}
}

func (s *Server) postDAOHandler() http.HandlerFunc {
	type request struct {
		Admin string `json:"admin"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		admin, err := did.Parse(req.Admin)
		if err != nil {
			http.Error(w, "invalid admin DID", http.StatusBadRequest)
			return
		}

		if err := s.svc.InitDAO(r.Context(), admin); err != nil {
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusCreated)
	}
}

func (s *Server) getDAOHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := s.svc.GetState(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}

		members := make([]string, 0, len(state.Members))
		for _, m := range state.Members {
			members = append(members, m.String())
		}

		writeJSON(w, map[string]any{
			"admin":        state.Admin.String(),
			"members":      members,
			"records":      len(state.Records),
			"totalPledged": state.TotalPledged,
			"totalPaid":    state.TotalPaid,
		})
	}
}

func (s *Server) postMembersHandler() http.HandlerFunc {
	type request struct {
		Caller string `json:"caller"`
		Member string `json:"member"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		caller, err := did.Parse(req.Caller)
		if err != nil {
			http.Error(w, "invalid caller DID", http.StatusBadRequest)
			return
		}

		member, err := did.Parse(req.Member)
		if err != nil {
			http.Error(w, "invalid member DID", http.StatusBadRequest)
			return
		}

		if err := s.svc.AddMember(r.Context(), caller, member); err != nil {
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) postSubmissionHandler() http.HandlerFunc {
	type request struct {
		Caller  string `json:"caller"`
		Payload string `json:"payload"`
		Reward  uint64 `json:"reward"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		caller, err := did.Parse(req.Caller)
		if err != nil {
			http.Error(w, "invalid caller DID", http.StatusBadRequest)
			return
		}

		payload, err := cid.Decode(req.Payload)
		if err != nil {
			http.Error(w, "invalid payload CID", http.StatusBadRequest)
			return
		}

		dealID, err := s.svc.SubmitData(r.Context(), caller, payload, req.Reward)
		if err != nil {
			s.writeError(w, err)
			return
		}

		writeJSON(w, map[string]uint64{"deal": dealID})
	}
}

func (s *Server) getDealHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dealID, err := strconv.ParseUint(r.PathValue("deal"), 10, 64)
		if err != nil {
			http.Error(w, "invalid deal id", http.StatusBadRequest)
			return
		}

		record, ok, err := s.svc.GetRecord(r.Context(), dealID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		writeJSON(w, marshalRecord(record))
	}
}

func (s *Server) postRewardHandler() http.HandlerFunc {
	type request struct {
		Caller string `json:"caller"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		dealID, err := strconv.ParseUint(r.PathValue("deal"), 10, 64)
		if err != nil {
			http.Error(w, "invalid deal id", http.StatusBadRequest)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		caller, err := did.Parse(req.Caller)
		if err != nil {
			http.Error(w, "invalid caller DID", http.StatusBadRequest)
			return
		}

		if err := s.svc.RewardProvider(r.Context(), caller, dealID); err != nil {
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) getMetricsHandler() http.Handler {
	promHandler := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.metricsEndpointToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		promHandler.ServeHTTP(w, r)
	})
}

// writeError maps the core's error taxonomy onto status codes. Anything
// unrecognized is a 500 and gets logged.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		tooLarge       store.PayloadTooLargeError
		objNotFound    store.ObjectNotFoundError
		unauthorized   dao.UnauthorizedError
		recNotFound    dao.RecordNotFoundError
		settled        dao.AlreadySettledError
		initialized    dao.AlreadyInitializedError
		dealRejected   market.DealRejectedError
		transferFailed market.TransferFailedError
	)

	switch {
	case errors.As(err, &tooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.As(err, &objNotFound), errors.As(err, &recNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, daostate.ErrNotFound):
		http.Error(w, "DAO is not initialized", http.StatusNotFound)
	case errors.As(err, &unauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.As(err, &settled), errors.As(err, &initialized):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &dealRejected), errors.As(err, &transferFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		log.Errorf("handling request: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encoding response: %s", err)
	}
}

func marshalRecord(record *daostate.DataRecord) map[string]any {
	out := map[string]any{
		"payload":  record.Payload.String(),
		"deal":     record.DealID,
		"provider": record.Provider.String(),
		"reward":   record.Reward,
		"settled":  record.Settled,
	}
	if record.Settled {
		out["settledAt"] = record.SettledAt.UTC().Format(time.RFC3339)
	}
	return out
}
