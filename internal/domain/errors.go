package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrWrongMode        = errors.New("wrong auction mode for this operation")
	ErrBidTooLow        = errors.New("bid too low")
	ErrExpired          = errors.New("auction expired")
	ErrAlreadySettled   = errors.New("auction already settled")
	ErrAuctionActive    = errors.New("auction already active for pool")
	ErrRefundFailed     = errors.New("refund to previous bidder failed")
	ErrNotStaker        = errors.New("caller is not a registered staker")
	ErrAlreadySlashed   = errors.New("bidder already slashed")
	ErrNotReady         = errors.New("decryption not ready")
	ErrAlreadyRequested = errors.New("reveal already requested")
	ErrNothingToClaim   = errors.New("nothing to claim")
	ErrTransferFailed   = errors.New("transfer failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrEngineDisconnect = errors.New("engine connection lost")
	ErrContextDone      = errors.New("context cancelled")
	ErrLockHeld         = errors.New("lock already held")
)
