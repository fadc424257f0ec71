package commissions

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradepost/api/controllers/dto"
	"github.com/angelmondragon/tradepost/api/responses"
	"github.com/angelmondragon/tradepost/api/validators"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/logger"
)

type commissionService interface {
	ClearCommission(ctx context.Context, id uuid.UUID) (*models.Commission, error)
	DisputeCommission(ctx context.Context, id uuid.UUID, reason string) (*models.Commission, error)
	ResolveDispute(ctx context.Context, id uuid.UUID) (*models.Commission, error)
}

type disputeRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Clear releases a pending commission ahead of the clearing window.
func Clear(svc commissionService, logg *logger.Logger) http.HandlerFunc {
	return transition(logg, func(r *http.Request, id uuid.UUID) (*models.Commission, error) {
		return svc.ClearCommission(r.Context(), id)
	})
}

// Dispute holds a commission back from payouts.
func Dispute(svc commissionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "commissionId", "commission")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload disputeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		commission, err := svc.DisputeCommission(r.Context(), id, validators.SanitizeString(payload.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view(commission))
	}
}

// Resolve returns a disputed commission to pending.
func Resolve(svc commissionService, logg *logger.Logger) http.HandlerFunc {
	return transition(logg, func(r *http.Request, id uuid.UUID) (*models.Commission, error) {
		return svc.ResolveDispute(r.Context(), id)
	})
}

func transition(logg *logger.Logger, apply func(*http.Request, uuid.UUID) (*models.Commission, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "commissionId", "commission")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		commission, err := apply(r, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view(commission))
	}
}

func view(c *models.Commission) dto.Commission {
	return dto.NewCommissions([]models.Commission{*c})[0]
}
