package models

import "time"

// DefaultMaxUses is the download quota stamped on every license at issuance.
const DefaultMaxUses = 3

type License struct {
	Key             string
	ProductID       string
	Email           string
	StripeSessionID string
	UsageCount      int
	MaxUses         int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Remaining reports how many downloads are left on the license.
func (l *License) Remaining() int {
	remaining := l.MaxUses - l.UsageCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Exhausted reports whether the quota has been fully consumed.
func (l *License) Exhausted() bool {
	return l.UsageCount >= l.MaxUses
}
