/*
sideeffects.go - Lease-end cascade

PURPOSE:
  After the reversals, the correction updates the tenancy's end date; if
  that date is now in the past the tenancy expires, the linked debtor
  expires, and the allocated room's occupancy is decremented (clamped at
  zero, status recomputed from capacity).

  End date, tenancy status and debtor status run inside the correction's
  transaction scope. The room decrement is best-effort: it runs after
  commit and its failure is logged and surfaced in the result, never
  rolled back into the ledger.
*/
package correction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
)

// applyLeaseEnd performs the in-transaction portion of the cascade.
func (s *Service) applyLeaseEnd(
	ctx context.Context,
	tx Stores,
	t housing.Tenancy,
	req CorrectionRequest,
	now time.Time,
	res *CorrectionResult,
) error {
	endChanged := t.EndDate == nil || !t.EndDate.Equal(req.EndDate)
	if endChanged {
		if err := tx.Tenancies.UpdateEndDate(ctx, t.ID, req.EndDate); err != nil {
			return fmt.Errorf("update end date for tenancy %s: %w", t.ID, err)
		}
		if err := tx.Audit.Append(ctx, ledger.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: now,
			ActorID:   req.Actor,
			Action:    ledger.AuditEndDateCorrected,
			TenancyID: t.ID,
			PersonID:  t.PersonID,
			DebtorID:  t.DebtorID,
			Payload: map[string]any{
				"old_end_date": formatEndDate(t.EndDate),
				"new_end_date": req.EndDate.Format("2006-01-02"),
				"reason":       req.Reason,
			},
		}); err != nil {
			return fmt.Errorf("audit end-date change for tenancy %s: %w", t.ID, err)
		}
		res.SideEffects.EndDateUpdated = true
	}

	if req.EndDate.After(now) {
		return nil
	}

	if t.Status != housing.TenancyExpired {
		if err := tx.Tenancies.UpdateStatus(ctx, t.ID, housing.TenancyExpired, req.Reason, now); err != nil {
			return fmt.Errorf("expire tenancy %s: %w", t.ID, err)
		}
		if err := tx.Audit.Append(ctx, ledger.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: now,
			ActorID:   req.Actor,
			Action:    ledger.AuditTenancyExpired,
			TenancyID: t.ID,
			PersonID:  t.PersonID,
			Payload:   map[string]any{"previous_status": string(t.Status), "reason": req.Reason},
		}); err != nil {
			return fmt.Errorf("audit tenancy expiry %s: %w", t.ID, err)
		}
		res.SideEffects.TenancyExpired = true
	}

	if t.DebtorID != "" {
		if err := tx.Debtors.UpdateStatus(ctx, t.DebtorID, housing.DebtorExpired); err != nil {
			return fmt.Errorf("expire debtor %s: %w", t.DebtorID, err)
		}
		if err := tx.Audit.Append(ctx, ledger.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: now,
			ActorID:   req.Actor,
			Action:    ledger.AuditDebtorExpired,
			TenancyID: t.ID,
			PersonID:  t.PersonID,
			DebtorID:  t.DebtorID,
			Payload:   map[string]any{"reason": req.Reason},
		}); err != nil {
			return fmt.Errorf("audit debtor expiry %s: %w", t.DebtorID, err)
		}
		res.SideEffects.DebtorExpired = true
	}

	return nil
}

// releaseRoom decrements the room's occupancy. Best-effort: failures are
// logged and recorded in the result, never propagated.
func (s *Service) releaseRoom(ctx context.Context, t housing.Tenancy, actor string, now time.Time, res *CorrectionResult) {
	room, err := s.Rooms.DecrementOccupancy(ctx, t.RoomID)
	if err != nil {
		res.SideEffects.Failures = append(res.SideEffects.Failures,
			fmt.Sprintf("room %s occupancy decrement: %v", t.RoomID, err))
		if s.Log != nil {
			s.Log.Warn("room occupancy decrement failed",
				zap.String("room_id", t.RoomID),
				zap.String("tenancy_id", t.ID),
				zap.Error(err))
		}
		return
	}

	res.SideEffects.RoomReleased = true

	if err := s.Stores.Audit.Append(ctx, ledger.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		ActorID:   actor,
		Action:    ledger.AuditRoomReleased,
		TenancyID: t.ID,
		PersonID:  t.PersonID,
		Payload: map[string]any{
			"room_id":  room.ID,
			"occupied": room.Occupied,
			"status":   string(room.Status),
		},
	}); err != nil {
		res.SideEffects.Failures = append(res.SideEffects.Failures,
			fmt.Sprintf("room %s release audit: %v", t.RoomID, err))
	}
}

func formatEndDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
