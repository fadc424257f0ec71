package refunds

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradepost/api/controllers"
	"github.com/angelmondragon/tradepost/api/controllers/dto"
	"github.com/angelmondragon/tradepost/api/middleware"
	"github.com/angelmondragon/tradepost/api/responses"
	"github.com/angelmondragon/tradepost/api/validators"
	internalrefunds "github.com/angelmondragon/tradepost/internal/refunds"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/logger"
	"github.com/angelmondragon/tradepost/pkg/money"
)

const (
	maxReasonLen = 500
	maxNotesLen  = 2000
)

type orderReader interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type refundService interface {
	GetRefund(ctx context.Context, id uuid.UUID) (*models.OrderRefund, error)
	ListRefunds(ctx context.Context, orderID uuid.UUID) ([]models.OrderRefund, error)
	RequestRefund(ctx context.Context, in internalrefunds.RequestInput) (*models.OrderRefund, error)
	ApproveRefund(ctx context.Context, id uuid.UUID, actor string) (*internalrefunds.Approval, error)
	RejectRefund(ctx context.Context, id uuid.UUID, actor, reason string) (*models.OrderRefund, error)
	MarkRefundProcessed(ctx context.Context, id uuid.UUID, actor string) (*models.OrderRefund, error)
}

type requestRefundRequest struct {
	ItemID *string `json:"item_id,omitempty" validate:"omitempty,uuid"`
	Amount string  `json:"amount" validate:"required,max=32"`
	Reason string  `json:"reason" validate:"required,max=500"`
	Notes  *string `json:"notes,omitempty"`
}

type rejectRefundRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Request opens a refund against an order, or one item of it, on behalf of
// the order's customer or an admin.
func Request(orders orderReader, svc refundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orders == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId", "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload requestRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := orders.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		access, err := controllers.RequireOrderAccess(r.Context(), order)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !access.Customer && !access.Admin {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "only the customer may request a refund"))
			return
		}

		// Amounts are read in the order currency.
		amount, err := money.Parse(payload.Amount, order.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		in := internalrefunds.RequestInput{
			OrderID: orderID,
			Amount:  amount,
			Reason:  validators.SanitizeString(payload.Reason, maxReasonLen),
			Actor:   middleware.ActorFromContext(r.Context()),
			Notes:   validators.OptionalString(payload.Notes, maxNotesLen),
		}
		if payload.ItemID != nil {
			itemID := uuid.MustParse(strings.TrimSpace(*payload.ItemID))
			in.ItemID = &itemID
		}

		refund, err := svc.RequestRefund(r.Context(), in)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewRefund(refund))
	}
}

// ListForOrder returns every refund of an order visible to the caller.
func ListForOrder(orders orderReader, svc refundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orders == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId", "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := orders.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := controllers.RequireOrderAccess(r.Context(), order); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListRefunds(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]*dto.Refund, 0, len(rows))
		for i := range rows {
			out = append(out, dto.NewRefund(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// Detail returns one refund. Mounted behind the admin role.
func Detail(svc refundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refundID, err := validators.ParseUUIDParam(r, "refundId", "refund")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refund, err := svc.GetRefund(r.Context(), refundID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewRefund(refund))
	}
}

type approvalResponse struct {
	Refund    *dto.Refund    `json:"refund"`
	Order     *dto.Order     `json:"order,omitempty"`
	Reversals []dto.Reversal `json:"reversals"`
}

// Approve applies a pending refund to the order and reverses commissions.
func Approve(svc refundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refundID, err := validators.ParseUUIDParam(r, "refundId", "refund")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		approval, err := svc.ApproveRefund(r.Context(), refundID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, approvalResponse{
			Refund:    dto.NewRefund(approval.Refund),
			Order:     dto.NewOrder(approval.Order),
			Reversals: dto.NewReversals(approval.Reversals),
		})
	}
}

func Reject(svc refundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refundID, err := validators.ParseUUIDParam(r, "refundId", "refund")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload rejectRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refund, err := svc.RejectRefund(r.Context(), refundID, middleware.ActorFromContext(r.Context()), validators.SanitizeString(payload.Reason, maxReasonLen))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewRefund(refund))
	}
}

// Processed records that the money reached the customer.
func Processed(svc refundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refundID, err := validators.ParseUUIDParam(r, "refundId", "refund")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refund, err := svc.MarkRefundProcessed(r.Context(), refundID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewRefund(refund))
	}
}
