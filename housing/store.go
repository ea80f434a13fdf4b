/*
store.go - Narrow store interfaces for housing collaborators

PURPOSE:
  The correction engine touches tenancies, debtors and rooms only through
  these interfaces. Reads dominate; the writes are exactly the lease-end
  side effects: end date + status on the tenancy, status on the debtor,
  occupancy decrement on the room.
*/
package housing

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTenancyNotFound = errors.New("tenancy not found")
	ErrDebtorNotFound  = errors.New("debtor not found")
	ErrRoomNotFound    = errors.New("room not found")
)

type TenancyStore interface {
	Get(ctx context.Context, id string) (Tenancy, error)

	// FindByPerson returns every tenancy ever linked to the person,
	// regardless of status.
	FindByPerson(ctx context.Context, personID string) ([]Tenancy, error)

	// FindByPersons is the bulk form used by the auditor to pre-load all
	// renewal candidates in one query.
	FindByPersons(ctx context.Context, personIDs []string) ([]Tenancy, error)

	// ListEnded returns all approved or expired tenancies that have an
	// end date recorded.
	ListEnded(ctx context.Context) ([]Tenancy, error)

	// ListByStatus returns tenancies in the given status.
	ListByStatus(ctx context.Context, status TenancyStatus) ([]Tenancy, error)

	UpdateEndDate(ctx context.Context, id string, end time.Time) error
	UpdateStatus(ctx context.Context, id string, status TenancyStatus, reason string, at time.Time) error
}

type DebtorStore interface {
	Get(ctx context.Context, id string) (Debtor, error)

	// FindByPerson returns every debtor ever associated with the person,
	// newest first.
	FindByPerson(ctx context.Context, personID string) ([]Debtor, error)

	// FindByPersons is the bulk form.
	FindByPersons(ctx context.Context, personIDs []string) ([]Debtor, error)

	UpdateStatus(ctx context.Context, id string, status DebtorStatus) error
}

type RoomStore interface {
	Get(ctx context.Context, id string) (Room, error)

	// DecrementOccupancy lowers the occupancy count by one, clamped at
	// zero, and recomputes the room status from capacity. Returns the
	// updated room.
	DecrementOccupancy(ctx context.Context, id string) (Room, error)
}
