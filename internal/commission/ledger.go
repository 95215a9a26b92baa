// Package commission holds the operator's share of finished rounds.
package commission

import "math/big"

// The operator keeps RateNumerator/RateDenominator of every pool.
const (
	RateNumerator   = 10
	RateDenominator = 100
)

// Split divides a pool into the winner's payout and the commission.
// Commission is rounded down, so the payout absorbs any remainder.
func Split(pool *big.Int) (payout, fee *big.Int) {
	fee = new(big.Int).Mul(pool, big.NewInt(RateNumerator))
	fee.Quo(fee, big.NewInt(RateDenominator))
	payout = new(big.Int).Sub(pool, fee)
	return payout, fee
}

// Ledger is a running commission balance. It has no locking of its own;
// the owning registry serializes access.
type Ledger struct {
	balance *big.Int
}

// NewLedger starts a ledger at the given balance (nil means zero).
func NewLedger(balance *big.Int) *Ledger {
	l := &Ledger{balance: new(big.Int)}
	if balance != nil {
		l.balance.Set(balance)
	}
	return l
}

// Balance returns a copy of the current balance.
func (l *Ledger) Balance() *big.Int {
	return new(big.Int).Set(l.balance)
}

// After returns what the balance would be once amount is accrued,
// without changing the ledger.
func (l *Ledger) After(amount *big.Int) *big.Int {
	return new(big.Int).Add(l.balance, amount)
}

// Set replaces the balance.
func (l *Ledger) Set(balance *big.Int) {
	l.balance.Set(balance)
}

// Drain zeroes the balance and returns what it held.
func (l *Ledger) Drain() *big.Int {
	out := l.Balance()
	l.balance.SetInt64(0)
	return out
}
