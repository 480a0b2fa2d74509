package models

import "time"

// Authority is a law-enforcement/dashboard identity (spec §3 "Authority").
// Immutable except Rank/Department after registration.
type Authority struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	BadgeNumber string   `json:"badge_number"`
	Department string    `json:"department"`
	Rank       string    `json:"rank"`
	CreatedAt  time.Time `json:"created_at"`
}

// Role values carried in JWT claims (spec §6.1).
const (
	RoleTourist   = "tourist"
	RoleAuthority = "authority"
	RoleAdmin     = "admin"
)
