// Package identity resolves users against the external identity provider.
package identity

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/angelmondragon/tradepost/pkg/collab"
	"github.com/angelmondragon/tradepost/pkg/config"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/logger"
)

// User is the subset of the identity record the core needs.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
	// Groups drive customer_group discount policies.
	Groups []string `json:"groups,omitempty"`
}

// Directory is the surface the order aggregate depends on.
type Directory interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

type Client struct {
	http *collab.Client
}

func NewClient(cfg config.CollaboratorConfig, logg *logger.Logger, opts ...collab.Option) (*Client, error) {
	c, err := collab.NewClient("identity", cfg, logg, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{http: c}, nil
}

// GetUser returns NOT_FOUND for unknown ids.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	var user User
	if err := c.http.Do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(id), nil, nil, &user); err != nil {
		var statusErr *collab.StatusError
		if errors.As(err, &statusErr) {
			if statusErr.StatusCode == http.StatusNotFound {
				return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "user not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup user")
		}
		return nil, pkgerrors.Passthrough(pkgerrors.CodeDependency, err, "lookup user")
	}
	return &user, nil
}
