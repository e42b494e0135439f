package handler

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mevflow/auctiond/internal/domain"
)

// AuctionService is the auction surface the HTTP handlers need: live lookups
// from the in-memory registry plus the privileged lifecycle operations.
// RevealWinner completes a reveal end to end, execution and redistribution
// included, not just the state flip.
type AuctionService interface {
	Get(id string) (*domain.Auction, error)
	ListRecent(limit int) []*domain.Auction
	CurrentEpoch() uint64
	SetPoolMode(poolKey string, mode domain.AuctionMode) error
	RequestReveal(ctx context.Context, auctionID string) error
	RevealWinner(ctx context.Context, auctionID string) (*domain.Auction, error)
	Slash(ctx context.Context, auctionID string, bidder common.Address) error
}

// AuctionHistory reads settled auctions and bid trails from durable storage.
type AuctionHistory interface {
	ListByPool(ctx context.Context, poolKey string, opts domain.ListOpts) ([]domain.Auction, error)
}

// BidHistory reads an auction's accepted bids from durable storage.
type BidHistory interface {
	ListByAuction(ctx context.Context, auctionID string) ([]domain.BidRecord, error)
}

// AuctionHandler serves auction queries and the privileged lifecycle
// endpoints (reveal, slash, mode changes).
type AuctionHandler struct {
	svc     AuctionService
	history AuctionHistory
	bids    BidHistory
}

// NewAuctionHandler creates an auction handler.
func NewAuctionHandler(svc AuctionService, history AuctionHistory, bids BidHistory) *AuctionHandler {
	return &AuctionHandler{
		svc:     svc,
		history: history,
		bids:    bids,
	}
}

// List handles GET /api/auctions — the most recently created auctions, live
// and settled, newest first.
func (h *AuctionHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	auctions := h.svc.ListRecent(opts.Limit)

	writeJSON(w, http.StatusOK, map[string]any{
		"auctions": auctions,
		"count":    len(auctions),
		"epoch":    h.svc.CurrentEpoch(),
	})
}

// Get handles GET /api/auctions/{id}, including the auction's accepted bid
// trail when durable storage is configured.
func (h *AuctionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	auction, err := h.svc.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{"auction": auction}
	if h.bids != nil {
		bids, err := h.bids.ListByAuction(r.Context(), id)
		if err == nil {
			resp["bids"] = bids
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListByPool handles GET /api/pools/{key}/auctions — the pool's auction
// history from durable storage.
func (h *AuctionHandler) ListByPool(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing pool key")
		return
	}

	auctions, err := h.history.ListByPool(r.Context(), key, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auctions": auctions,
		"count":    len(auctions),
	})
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

// SetMode handles POST /api/pools/{key}/mode — switches the auction mode
// applied to the pool's future auctions. Privileged.
func (h *AuctionHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing pool key")
		return
	}

	var req setModeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode := domain.AuctionMode(req.Mode)
	switch mode {
	case domain.ModeOpen, domain.ModeConfidential, domain.ModeStakeBacked:
	default:
		writeError(w, http.StatusBadRequest, "unknown auction mode: "+req.Mode)
		return
	}

	if err := h.svc.SetPoolMode(key, mode); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool_key": key,
		"mode":     mode,
	})
}

// RequestReveal handles POST /api/auctions/{id}/reveal — asks the
// confidential service to begin decrypting the winning bid. Privileged.
func (h *AuctionHandler) RequestReveal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	if err := h.svc.RequestReveal(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"auction_id": id,
		"status":     "reveal_requested",
	})
}

// Reveal handles POST /api/auctions/{id}/winner — polls the decryption and,
// when ready, installs the plaintext winner and runs the full settlement
// path (back-run execution, redistribution). A pending decryption answers
// 202. Privileged.
func (h *AuctionHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	auction, err := h.svc.RevealWinner(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"auction": auction})
}

type slashRequest struct {
	Bidder string `json:"bidder"`
}

// Slash handles POST /api/auctions/{id}/slash — reports a defaulting
// stake-backed winner for stake forfeiture. Privileged.
func (h *AuctionHandler) Slash(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	var req slashRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bidder, ok := parseAddress(req.Bidder)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bidder address")
		return
	}

	if err := h.svc.Slash(r.Context(), id, bidder); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"bidder":     bidder.Hex(),
		"status":     "slashed",
	})
}
