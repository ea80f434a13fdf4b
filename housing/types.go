/*
types.go - Housing collaborator entities

PURPOSE:
  Read-mostly records the engine consumes from the wider housing backend:
  tenancies (one lease period per person), debtors (the receivable account
  holder for a person), and rooms. The engine never owns their full schema;
  these types carry only the fields it needs.

RENEWALS:
  A renewal is a separate tenancy record for the same person, never a
  mutation of the old one. At most one tenancy per person is active for a
  given window.
*/
package housing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TENANCY
// =============================================================================

type TenancyStatus string

const (
	TenancyPending   TenancyStatus = "pending"
	TenancyApproved  TenancyStatus = "approved"
	TenancyExpired   TenancyStatus = "expired"
	TenancyRejected  TenancyStatus = "rejected"
	TenancyForfeited TenancyStatus = "forfeited"
	TenancyCancelled TenancyStatus = "cancelled"
)

// Tenancy is one lease period linking a person to a room for a date range.
type Tenancy struct {
	ID           string
	PersonID     string // "" until registration completes
	DebtorID     string // "" until a debtor account is opened
	RoomID       string
	TenantName   string
	StartDate    time.Time
	EndDate      *time.Time // nil for open-ended records
	Status       TenancyStatus
	MonthlyRent  decimal.Decimal
	StatusReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasEnded reports whether the tenancy's recorded end date is at or before t.
func (ten Tenancy) HasEnded(t time.Time) bool {
	return ten.EndDate != nil && !ten.EndDate.After(t)
}

// endDateEditSlack separates a routine create-then-save from a later edit
// of the end date.
const endDateEditSlack = 60 * time.Second

// EndDateEdited is the heuristic for "was this record's end date changed
// after creation": the update timestamp trails creation by more than a
// minute.
func (ten Tenancy) EndDateEdited() bool {
	return ten.UpdatedAt.Sub(ten.CreatedAt) > endDateEditSlack
}

// =============================================================================
// DEBTOR
// =============================================================================

type DebtorStatus string

const (
	DebtorActive  DebtorStatus = "active"
	DebtorExpired DebtorStatus = "expired"
)

// Debtor holds the canonical receivable account for a person. AccountCode
// may differ from the synthesized "1100-"+id form; when present it is the
// currently-authoritative code.
type Debtor struct {
	ID          string
	PersonID    string
	Name        string
	AccountCode string
	Status      DebtorStatus
	CreatedAt   time.Time
}

// =============================================================================
// ROOM
// =============================================================================

type RoomStatus string

const (
	RoomAvailable RoomStatus = "available"
	RoomReserved  RoomStatus = "reserved"
	RoomOccupied  RoomStatus = "occupied"
)

type Room struct {
	ID       string
	Capacity int
	Occupied int
	Status   RoomStatus
}

// StatusForOccupancy recomputes a room's status from capacity and count.
func StatusForOccupancy(capacity, occupied int) RoomStatus {
	switch {
	case occupied <= 0:
		return RoomAvailable
	case occupied >= capacity:
		return RoomOccupied
	default:
		return RoomReserved
	}
}
