package rest

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/gateway"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/pkg/utils"
)

// PublicChat endpoints are unauthenticated by design: anyone with a
// profile id may talk to an enabled bot.
type PublicChat struct {
	Service gateway.IGatewayUsecase
}

func InitRestPublicChat(app fiber.Router, service gateway.IGatewayUsecase) PublicChat {
	rest := PublicChat{Service: service}

	app.Post("/publicchat/:profileId/start", rest.Start)
	app.Post("/publicchat/:profileId/msg", rest.Send)
	app.Post("/publicchat/:profileId/end", rest.End)
	app.Get("/publicchat/:profileId/history", rest.History)

	return rest
}

type publicMessageRequest struct {
	SessionID   string            `json:"sessionId"`
	Message     string            `json:"message"`
	Attachments []chat.Attachment `json:"attachments"`
}

func (handler *PublicChat) Start(c *fiber.Ctx) error {
	session, err := handler.Service.StartPublicChat(c.UserContext(), c.Params("profileId"))
	apperror.PanicIfNeeded(err)

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Session started",
		Results: session,
	})
}

func (handler *PublicChat) Send(c *fiber.Ctx) error {
	var req publicMessageRequest
	if err := c.BodyParser(&req); err != nil {
		apperror.PanicIfNeeded(apperror.ValidationError("invalid request body"))
	}

	reply, err := handler.Service.SendPublicMessage(c.UserContext(), c.Params("profileId"), req.SessionID, req.Message, req.Attachments)
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Reply",
		Results: reply,
	})
}

func (handler *PublicChat) End(c *fiber.Ctx) error {
	var req publicMessageRequest
	if err := c.BodyParser(&req); err != nil {
		apperror.PanicIfNeeded(apperror.ValidationError("invalid request body"))
	}

	err := handler.Service.EndPublicChat(c.UserContext(), c.Params("profileId"), req.SessionID)
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session ended",
	})
}

func (handler *PublicChat) History(c *fiber.Ctx) error {
	messages, err := handler.Service.GetPublicHistory(c.UserContext(), c.Params("profileId"), c.Query("sessionId"))
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "History",
		Results: messages,
	})
}
