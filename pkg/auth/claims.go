package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/tradepost/pkg/enums"
)

// Claims is the bearer token issued by the identity provider. Subject-like
// data lives in UserID; the registered claims carry issuer and expiry.
type Claims struct {
	UserID string           `json:"user_id"`
	Role   enums.MemberRole `json:"role"`
	ShopID string           `json:"shop_id,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token grants admin routes.
func (c *Claims) IsAdmin() bool {
	return c != nil && c.Role == enums.MemberRoleAdmin
}
