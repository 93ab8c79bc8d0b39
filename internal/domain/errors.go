package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrRateLimited           = errors.New("rate limited")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrSlippage              = errors.New("output below slippage floor")
	ErrAssetMismatch         = errors.New("asset not supported")
	ErrLeverageBound         = errors.New("ltv above max ltv")
	ErrUninitialized         = errors.New("not initialized")
	ErrAlreadyInitialized    = errors.New("already initialized")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidFraction       = errors.New("fraction out of range")
	ErrInvalidWindow         = errors.New("invalid sampling window")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidAddress        = errors.New("invalid address")
	ErrLockHeld              = errors.New("lock already held")
)
