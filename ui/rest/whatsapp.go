package rest

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ypreiser/botgate/core/config"
	"github.com/ypreiser/botgate/domains/gateway"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/pkg/utils"
	"github.com/ypreiser/botgate/ui/rest/middleware"
)

type WhatsApp struct {
	Service gateway.IGatewayUsecase
}

func InitRestWhatsApp(app fiber.Router, service gateway.IGatewayUsecase, cfg *config.Config, users user.IUserRepository) WhatsApp {
	rest := WhatsApp{Service: service}
	guard := requireAuth(cfg, users)

	app.Post("/whatsapp/session", guard, rest.Start)
	app.Get("/whatsapp/session", guard, rest.List)
	app.Get("/whatsapp/session/:name/qr", guard, rest.QR)
	app.Get("/whatsapp/session/:name/status", guard, rest.Status)
	app.Post("/whatsapp/session/:name/message", guard, rest.Send)
	app.Delete("/whatsapp/session/:name", guard, rest.Close)

	return rest
}

type startSessionRequest struct {
	ConnectionName string `json:"connectionName"`
	ProfileName    string `json:"systemPromptName"`
}

type sendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (handler *WhatsApp) Start(c *fiber.Ctx) error {
	var req startSessionRequest
	if err := c.BodyParser(&req); err != nil {
		apperror.PanicIfNeeded(apperror.ValidationError("invalid request body"))
	}

	caller := middleware.CallerFromContext(c)
	status, err := handler.Service.StartWhatsAppSession(c.UserContext(), caller, req.ConnectionName, req.ProfileName)
	apperror.PanicIfNeeded(err)

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Session starting",
		Results: map[string]any{
			"connectionName": req.ConnectionName,
			"status":         status,
		},
	})
}

func (handler *WhatsApp) List(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)
	connections, err := handler.Service.ListConnections(c.UserContext(), caller)
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Connections",
		Results: connections,
	})
}

func (handler *WhatsApp) QR(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)
	qr, err := handler.Service.GetQR(c.UserContext(), caller, c.Params("name"))
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "QR code",
		Results: map[string]any{"qr": qr},
	})
}

func (handler *WhatsApp) Status(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)
	status, err := handler.Service.GetStatus(c.UserContext(), caller, c.Params("name"))
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Connection status",
		Results: map[string]any{"status": status},
	})
}

func (handler *WhatsApp) Send(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		apperror.PanicIfNeeded(apperror.ValidationError("invalid request body"))
	}

	caller := middleware.CallerFromContext(c)
	messageID, err := handler.Service.SendWhatsApp(c.UserContext(), caller, c.Params("name"), req.To, req.Message)
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Message sent",
		Results: map[string]any{"messageId": messageID},
	})
}

func (handler *WhatsApp) Close(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)
	err := handler.Service.CloseWhatsApp(c.UserContext(), caller, c.Params("name"))
	apperror.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session closed",
	})
}
