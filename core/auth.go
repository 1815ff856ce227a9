package core

import "time"

// LoginChallenge represents a short-lived session login challenge
type LoginChallenge struct {
	ID        string    // Unique identifier for the challenge
	Address   string    // Ethereum address of the user
	Nonce     string    // Random nonce embedded in the signed message
	IssuedAt  time.Time // When the challenge was created
	ExpiresAt time.Time // When the challenge expires
}

// Message returns the EIP-191 text the wallet signs to log in
func (c *LoginChallenge) Message() string {
	return "Sign in to sigkey\nAddress: " + c.Address + "\nNonce: " + c.Nonce
}

// Session represents an authenticated user session
type Session struct {
	ID            string    // Unique session identifier
	Address       string    // Ethereum address of the user
	IssuedAt      time.Time // When the session was created
	RefreshExpiry time.Time // When the refresh capability expires
	AccessExpiry  time.Time // When the access capability expires
	RefreshID     string    // Unique identifier for the refresh token
}

// SessionInfo is what a session oracle reports about the trusted session
type SessionInfo struct {
	ID        string
	Address   string
	ExpiresAt time.Time
}
