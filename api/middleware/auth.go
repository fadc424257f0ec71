package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/tradepost/api/responses"
	pkgauth "github.com/angelmondragon/tradepost/pkg/auth"
	"github.com/angelmondragon/tradepost/pkg/config"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return authWithClock(cfg, logg, time.Now)
}

func authWithClock(cfg config.JWTConfig, logg *logger.Logger, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseToken(cfg, token, now())
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithUserID(r.Context(), claims.UserID)
			ctx = WithRole(ctx, claims.Role)
			ctx = logg.WithUserID(ctx, claims.UserID)
			ctx = logg.WithField(ctx, "role", string(claims.Role))
			if claims.ShopID != "" {
				ctx = WithShopID(ctx, claims.ShopID)
				ctx = logg.WithShopID(ctx, claims.ShopID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
