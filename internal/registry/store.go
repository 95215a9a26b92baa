package registry

import (
	"context"
	"math/big"

	"vote-escrow/internal/address"
	"vote-escrow/internal/wallet"
)

// Store persists registry state. Commit must apply a Change atomically:
// either every part of it is durable or none is. Several registries may
// share one Store, so Commit must also refuse, with an error wrapping
// ErrConflict, a change whose guards no longer match the stored state or
// whose new owner or round already exists.
type Store interface {
	Load(ctx context.Context) (State, error)
	Commit(ctx context.Context, change Change) error
}

// State is everything a Store holds. An empty Owner means nothing has been
// deployed yet.
type State struct {
	Owner      address.Address
	Rounds     []RoundState // ordered by id
	Votes      []Vote       // ordered by insertion
	Commission *big.Int
	Transfers  []wallet.Transfer // ordered by insertion
}

// Change is the write set of one registry operation. Nil fields are
// left untouched.
type Change struct {
	Owner    address.Address
	NewRound *RoundState
	Round    *RoundState // pool, leader, leader votes and finished of an existing round
	// RoundBefore is the round Round was computed from; its pool, leader
	// votes and finished flag must still be stored.
	RoundBefore *RoundState
	Vote        *Vote
	Commission  *big.Int
	// CommissionBefore is the balance Commission was computed from.
	CommissionBefore *big.Int
	Transfers        []wallet.Transfer
}
