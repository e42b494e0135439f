package handler

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mevflow/auctiond/internal/domain"
)

// BidService is the bidding surface of the registry. Submission dispatches on
// the auction's mode, so the handler also needs Get.
type BidService interface {
	Get(id string) (*domain.Auction, error)
	SubmitBid(ctx context.Context, auctionID string, bidder common.Address, amount *big.Int) error
	SubmitStakeBid(ctx context.Context, auctionID string, bidder common.Address, amount *big.Int) error
	SubmitConfidentialBid(ctx context.Context, auctionID string, bidder common.Address, amount *big.Int) error
}

// BidHandler accepts bids over the REST API.
type BidHandler struct {
	svc BidService
}

// NewBidHandler creates a bid handler.
func NewBidHandler(svc BidService) *BidHandler {
	return &BidHandler{svc: svc}
}

type bidRequest struct {
	Bidder string `json:"bidder"`
	Amount string `json:"amount"` // decimal wei
}

// Submit handles POST /api/auctions/{id}/bids. The bid is routed by the
// auction's mode: open auctions take the plain path, stake-backed auctions
// verify the bidder's registration first. Confidential auctions reject plain
// bids; those go through the confidential endpoint.
func (h *BidHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	bidder, amount, ok := h.parseBid(w, r)
	if !ok {
		return
	}

	auction, err := h.svc.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	switch auction.Mode {
	case domain.ModeOpen:
		err = h.svc.SubmitBid(r.Context(), id, bidder, amount)
	case domain.ModeStakeBacked:
		err = h.svc.SubmitStakeBid(r.Context(), id, bidder, amount)
	case domain.ModeConfidential:
		writeError(w, http.StatusUnprocessableEntity,
			"auction is confidential; use the confidential bid endpoint")
		return
	default:
		writeError(w, http.StatusUnprocessableEntity, "unknown auction mode")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"auction_id": id,
		"bidder":     bidder.Hex(),
		"amount":     amount.String(),
		"status":     "accepted",
	})
}

// SubmitConfidential handles POST /api/auctions/{id}/confidential-bids. The
// amount is sealed before any comparison; the response never echoes it back.
func (h *BidHandler) SubmitConfidential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	bidder, amount, ok := h.parseBid(w, r)
	if !ok {
		return
	}

	if err := h.svc.SubmitConfidentialBid(r.Context(), id, bidder, amount); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"auction_id": id,
		"status":     "sealed",
	})
}

func (h *BidHandler) parseBid(w http.ResponseWriter, r *http.Request) (common.Address, *big.Int, bool) {
	var req bidRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return common.Address{}, nil, false
	}

	bidder, ok := parseAddress(req.Bidder)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bidder address")
		return common.Address{}, nil, false
	}

	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bid amount")
		return common.Address{}, nil, false
	}

	return bidder, amount, true
}
