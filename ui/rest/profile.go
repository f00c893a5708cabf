package rest

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ypreiser/botgate/core/config"
	"github.com/ypreiser/botgate/domains/profile"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/pkg/utils"
	"github.com/ypreiser/botgate/ui/rest/middleware"
)

type Profile struct {
	Service profile.IProfileUsecase
}

func InitRestProfile(app fiber.Router, service profile.IProfileUsecase, cfg *config.Config, users user.IUserRepository) Profile {
	rest := Profile{Service: service}
	guard := requireAuth(cfg, users)

	app.Post("/botprofile", guard, rest.Create)
	app.Get("/botprofile", guard, rest.List)
	app.Get("/botprofile/:id", guard, rest.Get)
	app.Put("/botprofile/:id", guard, rest.Update)
	app.Delete("/botprofile/:id", guard, rest.Delete)

	// Legacy read alias kept for older clients.
	app.Get("/systemprompt", guard, rest.List)
	app.Get("/systemprompt/:id", guard, rest.Get)

	return rest
}

func (handler *Profile) Create(c *fiber.Ctx) error {
	var body profile.BotProfile
	if err := c.BodyParser(&body); err != nil {
		apperror.PanicIfNeeded(apperror.ValidationError("invalid request body"))
	}

	caller := middleware.CallerFromContext(c)
	created, err := handler.Service.Create(c.UserContext(), caller, &body)
	apperror.PanicIfNeeded(err)

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Profile created",
		Results: created,
	})
}

func (handler *Profile) List(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)
	profiles, err := handler.Service.List(c.UserContext(), caller)
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Profiles",
		Results: profiles,
	})
}

func (handler *Profile) Get(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)
	found, err := handler.Service.Get(c.UserContext(), caller, c.Params("id"))
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Profile",
		Results: found,
	})
}

func (handler *Profile) Update(c *fiber.Ctx) error {
	var body profile.BotProfile
	if err := c.BodyParser(&body); err != nil {
		apperror.PanicIfNeeded(apperror.ValidationError("invalid request body"))
	}

	caller := middleware.CallerFromContext(c)
	updated, err := handler.Service.Update(c.UserContext(), caller, c.Params("id"), &body)
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Profile updated",
		Results: updated,
	})
}

func (handler *Profile) Delete(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)
	err := handler.Service.Delete(c.UserContext(), caller, c.Params("id"))
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Profile deleted",
	})
}
