package orders

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/tradepost/api/controllers"
	"github.com/angelmondragon/tradepost/api/controllers/dto"
	"github.com/angelmondragon/tradepost/api/middleware"
	"github.com/angelmondragon/tradepost/api/responses"
	"github.com/angelmondragon/tradepost/api/validators"
	internalorders "github.com/angelmondragon/tradepost/internal/orders"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/logger"
)

// Create places a pending order for the caller. Admins may name another
// customer in the body.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customerID := middleware.UserIDFromContext(r.Context())
		if payload.CustomerID != "" && payload.CustomerID != customerID {
			if middleware.RoleFromContext(r.Context()) != enums.MemberRoleAdmin {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cannot order on behalf of another customer"))
				return
			}
			customerID = payload.CustomerID
		}

		input, err := payload.toInput(customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.CreateOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewOrder(order))
	}
}

// List pages through the caller's orders. Admins pass customer_id to list
// another customer.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customerID := middleware.UserIDFromContext(r.Context())
		if requested := strings.TrimSpace(r.URL.Query().Get("customer_id")); requested != "" && requested != customerID {
			if middleware.RoleFromContext(r.Context()) != enums.MemberRoleAdmin {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cannot list another customer's orders"))
				return
			}
			customerID = requested
		}

		list, err := svc.ListOrders(r.Context(), customerID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns an order to its customer, to shops selling in it and to admins.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId", "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := controllers.RequireOrderAccess(r.Context(), order); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(order))
	}
}

type couponResponse struct {
	Order        *dto.Order `json:"order"`
	Discount     dto.Money  `json:"discount"`
	FreeShipping bool       `json:"free_shipping"`
}

// ApplyCoupon replaces the discount on a pending order with the coupon's.
func ApplyCoupon(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId", "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload applyCouponRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetOrder(r.Context(), orderID)
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
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "only the customer may apply a coupon"))
			return
		}

		result, err := svc.ApplyCoupon(r.Context(), orderID, validators.SanitizeString(payload.Code, maxCouponLen))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, couponResponse{
			Order:        dto.NewOrder(result.Order),
			Discount:     dto.NewMoney(result.Decision.Amount),
			FreeShipping: result.Decision.FreeShipping,
		})
	}
}

type confirmResponse struct {
	Order       *dto.Order       `json:"order"`
	Commissions []dto.Commission `json:"commissions"`
}

// Confirm commits inventory, books commissions and moves the order to confirmed.
func Confirm(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId", "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.GetOrder(r.Context(), orderID)
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
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "only the customer may confirm an order"))
			return
		}

		result, err := svc.ConfirmOrder(r.Context(), orderID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, confirmResponse{
			Order:       dto.NewOrder(result.Order),
			Commissions: dto.NewCommissions(result.Commissions),
		})
	}
}

// UpdateStatus moves an order along its lifecycle. Customers may only cancel
// their own orders; shops selling in the order and admins may apply any
// transition the order allows.
func UpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId", "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload statusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(strings.TrimSpace(payload.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		order, err := svc.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		access, err := controllers.RequireOrderAccess(r.Context(), order)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !access.Admin && !access.Shop && target != enums.OrderStatusCancelled {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "customers may only cancel orders"))
			return
		}

		updated, err := svc.UpdateStatus(r.Context(), internalorders.StatusChangeInput{
			OrderID: orderID,
			Target:  target,
			Actor:   middleware.ActorFromContext(r.Context()),
			Note:    validators.OptionalString(payload.Note, maxNoteLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(updated))
	}
}

// UpdateItemStatus ships or delivers one item. Only the shop selling the item
// and admins may move it.
func UpdateItemStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId", "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUIDParam(r, "itemId", "item")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload itemStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseOrderItemStatus(strings.TrimSpace(payload.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item status"))
			return
		}

		order, err := svc.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		access, err := controllers.RequireOrderAccess(r.Context(), order)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !access.Admin {
			shopID := middleware.ShopIDFromContext(r.Context())
			owns := false
			for _, item := range order.Items {
				if item.ID == itemID && item.ShopID.String() == shopID {
					owns = true
					break
				}
			}
			if !owns {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "item belongs to another shop"))
				return
			}
		}

		updated, err := svc.UpdateItemStatus(r.Context(), internalorders.ItemStatusChangeInput{
			OrderID: orderID,
			ItemID:  itemID,
			Target:  target,
			Actor:   middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(updated))
	}
}
