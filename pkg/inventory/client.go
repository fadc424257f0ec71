// Package inventory talks to the external inventory service that owns stock levels.
package inventory

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradepost/pkg/collab"
	"github.com/angelmondragon/tradepost/pkg/config"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/logger"
)

// Line is a requested quantity of one variant.
type Line struct {
	VariantID uuid.UUID `json:"variant_id"`
	Quantity  int       `json:"quantity"`
}

// Shortage describes a line the inventory service cannot fill.
type Shortage struct {
	VariantID uuid.UUID `json:"variant_id"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// Checker is the surface the order aggregate depends on.
type Checker interface {
	CheckAvailability(ctx context.Context, lines []Line) error
	Commit(ctx context.Context, orderID uuid.UUID, lines []Line) error
	Release(ctx context.Context, orderID uuid.UUID) error
}

type Client struct {
	http *collab.Client
}

func NewClient(cfg config.CollaboratorConfig, logg *logger.Logger, opts ...collab.Option) (*Client, error) {
	c, err := collab.NewClient("inventory", cfg, logg, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{http: c}, nil
}

type availabilityResponse struct {
	Items []Shortage `json:"items"`
}

// CheckAvailability fails with INVENTORY_UNAVAILABLE listing every short line.
func (c *Client) CheckAvailability(ctx context.Context, lines []Line) error {
	if len(lines) == 0 {
		return nil
	}
	var resp availabilityResponse
	if err := c.http.Do(ctx, http.MethodPost, "/v1/availability", nil, map[string]any{"items": lines}, &resp); err != nil {
		return mapError(err, "check availability")
	}

	var short []Shortage
	for _, item := range resp.Items {
		if item.Available < item.Requested {
			short = append(short, item)
		}
	}
	if len(short) > 0 {
		return pkgerrors.New(pkgerrors.CodeInventoryUnavailable, "insufficient stock").WithDetails(map[string]any{"items": short})
	}
	return nil
}

// Commit decrements stock for a confirmed order. The order id is the
// idempotency key so a retried confirmation commits once while the commit
// stands.
func (c *Client) Commit(ctx context.Context, orderID uuid.UUID, lines []Line) error {
	body := map[string]any{"order_id": orderID, "items": lines}
	headers := map[string]string{"Idempotency-Key": "order-commit:" + orderID.String()}
	if err := c.http.Do(ctx, http.MethodPost, "/v1/commits", headers, body, nil); err != nil {
		return mapError(err, "commit inventory")
	}
	return nil
}

// Release returns the stock committed for an order. Releasing an order with
// nothing committed is a no-op on the inventory side, and a later Commit for
// the same order applies again.
func (c *Client) Release(ctx context.Context, orderID uuid.UUID) error {
	if err := c.http.Do(ctx, http.MethodPost, "/v1/releases", nil, map[string]any{"order_id": orderID}, nil); err != nil {
		return mapError(err, "release inventory")
	}
	return nil
}

func mapError(err error, op string) error {
	var statusErr *collab.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusConflict, http.StatusUnprocessableEntity:
			return pkgerrors.Wrap(pkgerrors.CodeInventoryUnavailable, err, op)
		case http.StatusBadRequest:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, op)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
	}
	return pkgerrors.Passthrough(pkgerrors.CodeDependency, err, op)
}
