package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/pkg/security"
	"github.com/ypreiser/botgate/pkg/utils"
)

const userLocalsKey = "authUser"

// RequireAuth validates the session cookie and loads the caller onto
// the request. The user row is re-read so privilege changes take effect
// without waiting for token expiry.
func RequireAuth(issuer *security.TokenIssuer, cookieName string, users user.IUserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(cookieName)
		if token == "" {
			return unauthenticated(c)
		}

		claims, err := issuer.ValidateToken(token)
		if err != nil {
			return unauthenticated(c)
		}

		caller, err := users.FindByID(c.UserContext(), claims.UserID)
		if err != nil {
			return unauthenticated(c)
		}

		c.Locals(userLocalsKey, *caller)
		return c.Next()
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, ok := c.Locals(userLocalsKey).(user.User)
		if !ok || !caller.IsAdmin() {
			forbidden := apperror.ForbiddenError("admin privilege required")
			return c.Status(forbidden.StatusCode()).JSON(utils.ResponseData{
				Status:  forbidden.StatusCode(),
				Code:    forbidden.ErrCode(),
				Message: forbidden.Error(),
			})
		}
		return c.Next()
	}
}

// CallerFromContext returns the authenticated user loaded by RequireAuth.
func CallerFromContext(c *fiber.Ctx) user.User {
	caller, _ := c.Locals(userLocalsKey).(user.User)
	return caller
}

func unauthenticated(c *fiber.Ctx) error {
	authErr := apperror.AuthenticationError("authentication required")
	return c.Status(authErr.StatusCode()).JSON(utils.ResponseData{
		Status:  authErr.StatusCode(),
		Code:    authErr.ErrCode(),
		Message: authErr.Error(),
	})
}
