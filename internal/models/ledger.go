package models

import "time"

// LedgerID is the primary key of the only Ledger row.
const LedgerID = 1

// Ledger holds the registry owner and the commission balance.
type Ledger struct {
	ID         uint   `gorm:"primaryKey;autoIncrement:false"`
	Owner      string `gorm:"size:64;not null"`
	Commission string `gorm:"size:80;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Transfer is wei leaving the escrow: a payout to a round leader or a
// commission withdrawal to the owner.
type Transfer struct {
	ID        uint64    `gorm:"primaryKey"`
	Kind      string    `gorm:"size:16;index;not null"`
	RoundID   *uint64   `gorm:"index"`
	Recipient string    `gorm:"size:64;index;not null"`
	Amount    string    `gorm:"size:80;not null"`
	At        time.Time `gorm:"not null"`
}
