package rest

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ypreiser/botgate/core/config"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/pkg/utils"
	"github.com/ypreiser/botgate/ui/rest/middleware"
)

type Chat struct {
	Service chat.IChatUsecase
}

func InitRestChat(app fiber.Router, service chat.IChatUsecase, cfg *config.Config, users user.IUserRepository) Chat {
	rest := Chat{Service: service}
	guard := requireAuth(cfg, users)

	app.Get("/chats", guard, rest.List)
	app.Get("/chats/:id", guard, rest.Get)

	return rest
}

func (handler *Chat) List(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)
	chats, err := handler.Service.List(c.UserContext(), caller.ID, caller.IsAdmin())
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Chats",
		Results: chats,
	})
}

func (handler *Chat) Get(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)
	found, err := handler.Service.Get(c.UserContext(), caller.ID, caller.IsAdmin(), c.Params("id"))
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Chat",
		Results: found,
	})
}
