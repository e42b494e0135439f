package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ExchangeEngine is the trade-submission boundary of the external exchange
// engine. The core calls it exactly once per winning auction and never
// retries a failed submission.
type ExchangeEngine interface {
	// SubmitBackRun submits a trade on the given pool in the stated
	// direction with a conservative price limit. It returns the balance
	// delta realised by the trade, or an error the caller must treat as a
	// non-fatal "back-run failed" outcome.
	SubmitBackRun(ctx context.Context, pool Pool, zeroForOne bool, amount, priceLimit *big.Int) (*big.Int, error)
}

// Treasury orders value transfers (bid refunds, rebates, reward payouts)
// through the engine's custody primitive. The core holds no funds itself; it
// only observes whether a transfer succeeded.
type Treasury interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
}

// ConfidentialService is the boundary of the external confidential-computation
// service. All values are opaque handles; comparison and selection happen
// without decryption, and decryption is an explicit asynchronous
// request/poll protocol.
type ConfidentialService interface {
	EncryptAmount(ctx context.Context, amount *big.Int) (CipherHandle, error)
	EncryptAddress(ctx context.Context, addr common.Address) (CipherHandle, error)

	// SelectMax homomorphically compares the amounts behind aAmt and bAmt
	// and returns handles to the larger amount and its paired owner.
	SelectMax(ctx context.Context, aAmt, aOwner, bAmt, bOwner CipherHandle) (amt, owner CipherHandle, err error)

	// RequestDecrypt schedules asynchronous decryption of the given handles.
	RequestDecrypt(ctx context.Context, handles ...CipherHandle) error

	// DecryptedAmount returns the plaintext behind h once decryption has
	// completed. ready is false while the result is still pending.
	DecryptedAmount(ctx context.Context, h CipherHandle) (amount *big.Int, ready bool, err error)

	// DecryptedAddress is the address counterpart of DecryptedAmount.
	DecryptedAddress(ctx context.Context, h CipherHandle) (addr common.Address, ready bool, err error)
}

// StakeRegistry is the boundary of the external restaking registry. The core
// reads registration state and forwards slashing signals; it never holds or
// moves stake.
type StakeRegistry interface {
	IsRegistered(ctx context.Context, account common.Address) (bool, error)
	ReportSlash(ctx context.Context, account common.Address, amount *big.Int, auctionID string) error
}

// Notifier delivers operator alerts (auction won, back-run failed, slashing).
type Notifier interface {
	Send(ctx context.Context, title, message string) error
}
