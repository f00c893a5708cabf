package rest

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ypreiser/botgate/core/config"
	"github.com/ypreiser/botgate/pkg/msgworker"
	"github.com/ypreiser/botgate/pkg/utils"
)

// SessionCounter reports how many live sessions a manager currently holds.
type SessionCounter interface {
	ActiveSessions() int
}

type Health struct {
	db         *gorm.DB
	pool       *msgworker.MessageWorkerPool
	publicChat SessionCounter
	cfg        *config.Config
}

func InitRestHealth(app fiber.Router, db *gorm.DB, pool *msgworker.MessageWorkerPool, publicChat SessionCounter, cfg *config.Config) Health {
	rest := Health{db: db, pool: pool, publicChat: publicChat, cfg: cfg}
	app.Get("/health", rest.Status)
	return rest
}

func (handler *Health) Status(c *fiber.Ctx) error {
	dbStatus := "ok"
	if sqlDB, err := handler.db.DB(); err != nil {
		dbStatus = err.Error()
	} else if err := sqlDB.PingContext(c.UserContext()); err != nil {
		dbStatus = err.Error()
	}

	results := map[string]any{
		"version":     handler.cfg.App.Version,
		"environment": handler.cfg.App.Environment,
		"database":    dbStatus,
	}
	if handler.pool != nil {
		results["workerPool"] = handler.pool.GetStats()
	}
	if handler.publicChat != nil {
		results["publicChatSessions"] = handler.publicChat.ActiveSessions()
	}

	status := 200
	code := "SUCCESS"
	if dbStatus != "ok" {
		status = 500
		code = "INTERNAL_SERVER_ERROR"
	}
	return c.Status(status).JSON(utils.ResponseData{
		Status:  status,
		Code:    code,
		Message: "Health status",
		Results: results,
	})
}
