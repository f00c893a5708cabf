package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ypreiser/botgate/core/config"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/pkg/utils"
	"github.com/ypreiser/botgate/ui/rest/middleware"
)

type Auth struct {
	Service user.IAuthUsecase
	Users   user.IUserRepository
	cfg     *config.Config
}

func InitRestAuth(app fiber.Router, authGroup fiber.Router, service user.IAuthUsecase, users user.IUserRepository, cfg *config.Config) Auth {
	rest := Auth{Service: service, Users: users, cfg: cfg}

	// Register and login carry the stricter rate limit.
	authGroup.Post("/auth/register", rest.Register)
	authGroup.Post("/auth/login", rest.Login)

	app.Post("/auth/logout", rest.Logout)
	app.Get("/auth/me", middleware.RequireAuth(sessionIssuer(cfg), cfg.Security.CookieName, users), rest.Me)

	return rest
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (handler *Auth) Register(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		apperror.PanicIfNeeded(apperror.ValidationError("invalid request body"))
	}

	created, err := handler.Service.Register(c.UserContext(), req.Email, req.Password, req.Name)
	apperror.PanicIfNeeded(err)

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Registration successful",
		Results: created,
	})
}

func (handler *Auth) Login(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		apperror.PanicIfNeeded(apperror.ValidationError("invalid request body"))
	}

	logged, token, err := handler.Service.Login(c.UserContext(), req.Email, req.Password)
	apperror.PanicIfNeeded(err)

	c.Cookie(handler.sessionCookie(token, handler.cfg.Security.TokenLifetime))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Login successful",
		Results: logged,
	})
}

func (handler *Auth) Logout(c *fiber.Ctx) error {
	c.Cookie(handler.sessionCookie("", -time.Hour))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Logout successful",
	})
}

func (handler *Auth) Me(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)
	me, err := handler.Service.Me(c.UserContext(), caller.ID)
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Current user",
		Results: me,
	})
}

func (handler *Auth) sessionCookie(token string, lifetime time.Duration) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     handler.cfg.Security.CookieName,
		Value:    token,
		Expires:  time.Now().Add(lifetime),
		HTTPOnly: true,
		Secure:   handler.cfg.App.Environment == "production",
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	}
}
