package handler

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// RewardService is the reward-ledger surface: pending balances, claims, and
// the emergency recovery sweep.
type RewardService interface {
	Pending(poolKey string) *big.Int
	Claim(ctx context.Context, poolKey string, claimant common.Address) (*big.Int, error)
	RecoverFunds(ctx context.Context, to common.Address) (*big.Int, error)
}

// RewardHandler serves the per-pool reward ledger.
type RewardHandler struct {
	svc RewardService
}

// NewRewardHandler creates a reward handler.
func NewRewardHandler(svc RewardService) *RewardHandler {
	return &RewardHandler{svc: svc}
}

// Pending handles GET /api/pools/{key}/rewards.
func (h *RewardHandler) Pending(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing pool key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool_key": key,
		"pending":  h.svc.Pending(key).String(),
	})
}

type claimRequest struct {
	Claimant string `json:"claimant"`
}

// Claim handles POST /api/pools/{key}/claim — pays the pool's accumulated
// reward out to the claimant and clears the balance.
func (h *RewardHandler) Claim(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing pool key")
		return
	}

	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claimant, ok := parseAddress(req.Claimant)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid claimant address")
		return
	}

	paid, err := h.svc.Claim(r.Context(), key, claimant)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool_key": key,
		"claimant": claimant.Hex(),
		"paid":     paid.String(),
	})
}

type recoverRequest struct {
	To string `json:"to"`
}

// Recover handles POST /api/admin/recover — sweeps every pool's pending
// reward balance to the given address. Privileged.
func (h *RewardHandler) Recover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	to, ok := parseAddress(req.To)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid recovery address")
		return
	}

	recovered, err := h.svc.RecoverFunds(r.Context(), to)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"to":        to.Hex(),
		"recovered": recovered.String(),
	})
}
