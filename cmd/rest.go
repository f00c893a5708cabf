package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ypreiser/botgate/ui/rest"
	"github.com/ypreiser/botgate/ui/rest/middleware"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Run the HTTP gateway",
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initApp(ctx)
	if err != nil {
		logrus.Errorf("[INIT] startup failed: %v", err)
		os.Exit(1)
	}
	cfg := app.cfg

	fiberConfig := fiber.Config{
		AppName:               "botgate",
		BodyLimit:             int(cfg.Upload.MaxSizeBytes) + 1024*1024,
		Network:               "tcp",
		DisableStartupMessage: false,
		ServerHeader:          "Hidden",
	}
	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.EnableTrustedProxyCheck = true
		fiberConfig.TrustedProxies = cfg.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedFor
	}

	server := fiber.New(fiberConfig)

	server.Use(requestid.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.App.CorsAllowedOrigins, ", "),
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, X-Request-ID",
	}))
	server.Use(middleware.Recovery())
	server.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	server.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimit.GlobalMax,
		Expiration: cfg.RateLimit.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))

	if cfg.App.Debug {
		server.Use(fiberlogger.New())
	}

	api := server.Group(cfg.App.BasePath)

	// Credential endpoints get a much tighter budget than the rest of
	// the API to slow down guessing.
	authGroup := server.Group(cfg.App.BasePath, limiter.New(limiter.Config{
		Max:        cfg.RateLimit.AuthMax,
		Expiration: cfg.RateLimit.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))

	server.Static(cfg.App.BasePath+"/statics", cfg.Paths.Statics)

	rest.InitRestAuth(api, authGroup, app.authService, app.users, cfg)
	rest.InitRestProfile(api, app.profileService, cfg, app.users)
	rest.InitRestChat(api, app.chatService, cfg, app.users)
	rest.InitRestWhatsApp(api, app.gatewayService, cfg, app.users)
	rest.InitRestPublicChat(api, app.gatewayService)
	rest.InitRestUpload(api, app.media, cfg, app.users)
	rest.InitRestAdmin(api, app.adminService, cfg, app.users)
	rest.InitRestHealth(api, app.db, app.pool, app.publicChat, cfg)

	app.pool.Start(ctx)
	app.publicChat.StartJanitor()
	go app.whatsapp.RecoverOnStartup(ctx)

	go func() {
		if err := server.Listen(":" + cfg.App.Port); err != nil {
			logrus.Fatalf("[REST] server stopped: %v", err)
		}
	}()
	logrus.Infof("[REST] listening on port %s (%s)", cfg.App.Port, cfg.App.Environment)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("[REST] shutting down")
	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		logrus.Warnf("[REST] shutdown did not finish cleanly: %v", err)
	}
	app.whatsapp.Shutdown()
	app.publicChat.Stop()
	app.pool.Stop()
	cancel()
	if sqlDB, err := app.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logrus.Info("[REST] bye")
}
