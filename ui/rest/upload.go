package rest

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ypreiser/botgate/core/config"
	"github.com/ypreiser/botgate/domains/media"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/pkg/utils"
)

type Upload struct {
	Store media.Store
	cfg   *config.Config
}

func InitRestUpload(app fiber.Router, store media.Store, cfg *config.Config, users user.IUserRepository) Upload {
	rest := Upload{Store: store, cfg: cfg}
	app.Post("/upload", requireAuth(cfg, users), rest.Upload)
	return rest
}

func (handler *Upload) Upload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		apperror.PanicIfNeeded(apperror.ValidationError("a 'file' form field is required"))
	}
	if fileHeader.Size > handler.cfg.Upload.MaxSizeBytes {
		apperror.PanicIfNeeded(apperror.PayloadTooLargeError("file exceeds the maximum upload size"))
	}

	file, err := fileHeader.Open()
	apperror.PanicIfNeeded(err)
	defer file.Close()

	stored, err := handler.Store.Save(c.UserContext(), fileHeader.Filename, fileHeader.Header.Get("Content-Type"), file)
	apperror.PanicIfNeeded(err)

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "File uploaded",
		Results: stored,
	})
}
