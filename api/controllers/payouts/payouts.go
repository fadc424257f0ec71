package payouts

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradepost/api/controllers/dto"
	"github.com/angelmondragon/tradepost/api/middleware"
	"github.com/angelmondragon/tradepost/api/responses"
	"github.com/angelmondragon/tradepost/api/validators"
	"github.com/angelmondragon/tradepost/internal/settlement"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/logger"
)

type payoutService interface {
	BuildPayout(ctx context.Context, in settlement.BuildPayoutInput) (*models.Payout, error)
	GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	MarkPayoutProcessing(ctx context.Context, id uuid.UUID, reference string) (*models.Payout, error)
	MarkPayoutCompleted(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	MarkPayoutFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Payout, error)
}

type buildRequest struct {
	// Cutoff defaults to the request time.
	Cutoff   *time.Time `json:"cutoff,omitempty"`
	Currency string     `json:"currency,omitempty" validate:"omitempty,len=3"`
}

type processingRequest struct {
	Reference string `json:"reference" validate:"required,max=128"`
}

type failRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Build batches a shop's cleared commissions into a pending payout.
func Build(svc payoutService, logg *logger.Logger) http.HandlerFunc {
	return buildAt(svc, logg, time.Now)
}

func buildAt(svc payoutService, logg *logger.Logger, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, err := validators.ParseUUIDParam(r, "shopId", "shop")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload buildRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		in := settlement.BuildPayoutInput{ShopID: shopID, Cutoff: now().UTC()}
		if payload.Cutoff != nil {
			if payload.Cutoff.After(in.Cutoff) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "cutoff must not be in the future"))
				return
			}
			in.Cutoff = payload.Cutoff.UTC()
		}
		if payload.Currency != "" {
			currency, err := enums.ParseCurrency(strings.ToUpper(payload.Currency))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
				return
			}
			in.Currency = currency
		}

		ctx := logg.WithShopID(r.Context(), shopID.String())
		payout, err := svc.BuildPayout(ctx, in)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewPayout(payout))
	}
}

// Detail returns a payout to admins and to the shop it pays.
func Detail(svc payoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payoutID, err := validators.ParseUUIDParam(r, "payoutId", "payout")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payout, err := svc.GetPayout(r.Context(), payoutID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if middleware.RoleFromContext(r.Context()) != enums.MemberRoleAdmin &&
			middleware.ShopIDFromContext(r.Context()) != payout.ShopID.String() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found"))
			return
		}
		responses.WriteSuccess(w, dto.NewPayout(payout))
	}
}

// Processing records that the disbursement was handed to the payment rail.
func Processing(svc payoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payoutID, err := validators.ParseUUIDParam(r, "payoutId", "payout")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload processingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payout, err := svc.MarkPayoutProcessing(r.Context(), payoutID, validators.SanitizeString(payload.Reference, 128))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewPayout(payout))
	}
}

func Complete(svc payoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payoutID, err := validators.ParseUUIDParam(r, "payoutId", "payout")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payout, err := svc.MarkPayoutCompleted(r.Context(), payoutID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewPayout(payout))
	}
}

func Fail(svc payoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payoutID, err := validators.ParseUUIDParam(r, "payoutId", "payout")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload failRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payout, err := svc.MarkPayoutFailed(r.Context(), payoutID, validators.SanitizeString(payload.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewPayout(payout))
	}
}
