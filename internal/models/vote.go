package models

import "time"

// Vote is one accepted vote. ID preserves arrival order, which decides ties.
type Vote struct {
	ID        uint64    `gorm:"primaryKey"`
	RoundID   uint64    `gorm:"uniqueIndex:ux_round_voter;not null"`
	Voter     string    `gorm:"uniqueIndex:ux_round_voter;size:64;not null"`
	Candidate string    `gorm:"size:64;index;not null"`
	Fee       string    `gorm:"size:80;not null"`
	CastAt    time.Time `gorm:"not null"`
}
