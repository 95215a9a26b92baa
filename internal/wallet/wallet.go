// Package wallet records funds leaving the escrow.
package wallet

import (
	"math/big"
	"time"

	"vote-escrow/internal/address"
)

type Kind string

const (
	KindPayout     Kind = "payout"
	KindWithdrawal Kind = "withdrawal"
)

// Transfer is one movement of wei out of the escrow.
type Transfer struct {
	Kind    Kind
	RoundID *uint64 // set for payouts
	To      address.Address
	Amount  *big.Int
	At      time.Time
}

// clone copies t without sharing its pointers.
func (t Transfer) clone() Transfer {
	t.Amount = new(big.Int).Set(t.Amount)
	if t.RoundID != nil {
		id := *t.RoundID
		t.RoundID = &id
	}
	return t
}

// Wallet keeps credited balances and the ordered transfer log. The owning
// registry serializes access.
type Wallet struct {
	balances  map[address.Address]*big.Int
	transfers []Transfer
}

func New() *Wallet {
	return &Wallet{balances: make(map[address.Address]*big.Int)}
}

// Credit appends t to the log and adds its amount to the recipient.
func (w *Wallet) Credit(t Transfer) {
	t = t.clone()
	bal, ok := w.balances[t.To]
	if !ok {
		bal = new(big.Int)
		w.balances[t.To] = bal
	}
	bal.Add(bal, t.Amount)
	w.transfers = append(w.transfers, t)
}

// BalanceOf returns the total credited to a, zero if nothing was.
func (w *Wallet) BalanceOf(a address.Address) *big.Int {
	if bal, ok := w.balances[a]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Transfers returns a copy of the log in credit order.
func (w *Wallet) Transfers() []Transfer {
	out := make([]Transfer, len(w.transfers))
	for i, t := range w.transfers {
		out[i] = t.clone()
	}
	return out
}
