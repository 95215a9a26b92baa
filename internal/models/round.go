// Package models defines the database models for the voting escrow.
package models

import "time"

// Round is one voting round. Amounts are decimal wei strings.
type Round struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt   time.Time `gorm:"not null"`
	Deadline    time.Time `gorm:"index;not null"`
	Pool        string    `gorm:"size:80;not null"`
	Leader      string    `gorm:"size:64;index"`
	LeaderVotes uint64    `gorm:"not null"`
	Finished    bool      `gorm:"index;not null"`
	UpdatedAt   time.Time
}

// RoundVoter is one eligible candidate of a round, kept in creation order.
type RoundVoter struct {
	RoundID  uint64 `gorm:"primaryKey;autoIncrement:false"`
	Position int    `gorm:"primaryKey;autoIncrement:false"`
	Address  string `gorm:"size:64;not null"`
}
