package core

import "errors"

var (
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidChallenge = errors.New("invalid challenge")
	ErrInvalidAddress   = errors.New("invalid wallet address")

	// ErrNotFound is returned by stores when a key or record does not exist
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable is returned when challenge persistence fails
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrSignatureRejected is returned when the wallet declines to sign
	ErrSignatureRejected = errors.New("signature rejected")

	// ErrDerivationFailure is returned when signature material cannot seed a key derivation
	ErrDerivationFailure = errors.New("key derivation failed")

	// ErrWalletNotConnected is returned when an operation needs a connected wallet
	ErrWalletNotConnected = errors.New("wallet not connected")

	// Cache failures. They are recovered inside the key cache and never reach callers.
	ErrDecryption        = errors.New("decryption failed")
	ErrStorageCorruption = errors.New("stored keys are corrupt")
	ErrWalletMismatch    = errors.New("stored keys belong to a different wallet")
	ErrExpired           = errors.New("stored keys have expired")
)
