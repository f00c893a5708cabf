package rest

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ypreiser/botgate/core/config"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/security"
	"github.com/ypreiser/botgate/ui/rest/middleware"
)

func sessionIssuer(cfg *config.Config) *security.TokenIssuer {
	return security.NewTokenIssuer(cfg.Security.JWTSecret, cfg.Security.TokenLifetime)
}

// requireAuth builds the standard session guard for a handler group.
func requireAuth(cfg *config.Config, users user.IUserRepository) fiber.Handler {
	return middleware.RequireAuth(sessionIssuer(cfg), cfg.Security.CookieName, users)
}
