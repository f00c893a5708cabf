package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/core/config"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/pkg/utils"
)

func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			err := recover()
			if err != nil {
				var res utils.ResponseData
				res.Status = 500
				res.Code = "INTERNAL_SERVER_ERROR"
				res.Message = fmt.Sprintf("%v", err)

				logrus.Errorf("Panic recovered in middleware: %v", err)

				known, isKnown := err.(apperror.GenericError)
				if isKnown {
					res.Status = known.StatusCode()
					res.Code = known.ErrCode()
					res.Message = known.Error()
				} else if config.Global != nil && config.Global.App.Environment == "production" {
					// Unexpected panics must not leak internals to clients.
					res.Message = "internal server error"
				}

				_ = ctx.Status(res.Status).JSON(res)
			}
		}()

		return ctx.Next()
	}
}
