package rest

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ypreiser/botgate/core/config"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/pkg/utils"
	"github.com/ypreiser/botgate/ui/rest/middleware"
)

type Admin struct {
	Service user.IAdminUsecase
}

func InitRestAdmin(app fiber.Router, service user.IAdminUsecase, cfg *config.Config, users user.IUserRepository) Admin {
	rest := Admin{Service: service}
	guard := requireAuth(cfg, users)
	adminOnly := middleware.RequireAdmin()

	app.Get("/admin/users", guard, adminOnly, rest.ListUsers)
	app.Patch("/admin/user/:id/privilege", guard, adminOnly, rest.SetPrivilege)

	return rest
}

type privilegeRequest struct {
	Privilege string `json:"privilege"`
}

func (handler *Admin) ListUsers(c *fiber.Ctx) error {
	allUsers, err := handler.Service.ListUsers(c.UserContext())
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Users",
		Results: allUsers,
	})
}

func (handler *Admin) SetPrivilege(c *fiber.Ctx) error {
	var req privilegeRequest
	if err := c.BodyParser(&req); err != nil {
		apperror.PanicIfNeeded(apperror.ValidationError("invalid request body"))
	}

	err := handler.Service.SetPrivilege(c.UserContext(), c.Params("id"), user.Privilege(req.Privilege))
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Privilege updated",
	})
}
