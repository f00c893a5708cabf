package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/ypreiser/botgate/botengine"
	"github.com/ypreiser/botgate/botengine/pipeline"
	"github.com/ypreiser/botgate/botengine/providers"
	"github.com/ypreiser/botgate/core/config"
	"github.com/ypreiser/botgate/core/database"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/gateway"
	"github.com/ypreiser/botgate/domains/media"
	"github.com/ypreiser/botgate/domains/profile"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/infrastructure/mediastore"
	"github.com/ypreiser/botgate/infrastructure/whatsapp"
	"github.com/ypreiser/botgate/pkg/msgworker"
	"github.com/ypreiser/botgate/pkg/security"
	"github.com/ypreiser/botgate/repository"
	"github.com/ypreiser/botgate/usecase"
)

var rootCmd = &cobra.Command{
	Use:   "botgate",
	Short: "Multi-tenant AI chatbot gateway for WhatsApp and web chat",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalln(err)
	}
}

func init() {
	cobra.OnInitialize(loadEnv)

	rootCmd.PersistentFlags().String("port", "", "HTTP port to listen on (overrides APP_PORT)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging (overrides APP_DEBUG)")
	_ = viper.BindPFlag("app_port", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("app_debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func loadEnv() {
	if err := godotenv.Load(); err == nil {
		logrus.Debugln("[INIT] loaded environment from .env")
	}

	// Flags win over the environment; the config loader only reads env vars.
	if v := viper.GetString("app_port"); v != "" {
		os.Setenv("APP_PORT", v)
	}
	if viper.GetBool("app_debug") {
		os.Setenv("APP_DEBUG", "true")
	}
}

// application is the fully wired object graph behind every command.
type application struct {
	cfg *config.Config
	db  *gorm.DB

	users    user.IUserRepository
	profiles *repository.ProfileGormRepository
	chats    chat.IChatRepository

	pool       *msgworker.MessageWorkerPool
	media      media.Store
	whatsapp   *whatsapp.Manager
	publicChat *usecase.PublicChatManager

	authService    user.IAuthUsecase
	adminService   user.IAdminUsecase
	chatService    chat.IChatUsecase
	profileService profile.IProfileUsecase
	gatewayService gateway.IGatewayUsecase
}

func initApp(ctx context.Context) (*application, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	for _, dir := range []string{cfg.Paths.Storages, cfg.Paths.Statics, cfg.Paths.Uploads} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		return nil, err
	}

	users := repository.NewUserGormRepository(db)
	profiles := repository.NewProfileGormRepository(db)
	chats := repository.NewChatGormRepository(db)
	conns := repository.NewConnectionGormRepository(db)
	usageRecords := repository.NewUsageGormRepository(db)

	migrations := []interface {
		Init(ctx context.Context) error
	}{users, profiles, chats, conns, usageRecords}
	for _, repo := range migrations {
		if err := repo.Init(ctx); err != nil {
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engine := botengine.NewEngine(provider, cfg.AI.Model, cfg.AI.MaxToolSteps)

	ledger := usecase.NewLedgerService(usageRecords, users, profiles)
	pipe := pipeline.NewPipeline(chats, ledger, engine, pipeline.DefaultHistoryLimit)

	pool := msgworker.NewMessageWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize)

	mediaStore, err := mediastore.NewLocalStore(cfg.Paths.Uploads, cfg.App.BasePath+"/statics/uploads", cfg.Upload.MaxSizeBytes)
	if err != nil {
		return nil, err
	}

	waManager := whatsapp.NewManager(conns, profiles, pipe, pool, mediaStore, cfg)
	publicChat := usecase.NewPublicChatManager(profiles, chats, pipe, nil, cfg.PublicChat.IdleTimeout)

	issuer := security.NewTokenIssuer(cfg.Security.JWTSecret, cfg.Security.TokenLifetime)

	return &application{
		cfg:            cfg,
		db:             db,
		users:          users,
		profiles:       profiles,
		chats:          chats,
		pool:           pool,
		media:          mediaStore,
		whatsapp:       waManager,
		publicChat:     publicChat,
		authService:    usecase.NewAuthService(users, issuer),
		adminService:   usecase.NewAdminService(users),
		chatService:    usecase.NewChatService(chats),
		profileService: usecase.NewProfileService(profiles, waManager, publicChat),
		gatewayService: usecase.NewGatewayService(waManager, publicChat, conns, profiles),
	}, nil
}

func buildProvider(ctx context.Context, cfg *config.Config) (botengine.Provider, error) {
	switch cfg.AI.Provider {
	case "gemini":
		return providers.NewGeminiProvider(ctx, cfg.AI.GeminiKey)
	case "openai", "":
		return providers.NewOpenAIProvider(cfg.AI.OpenAIKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.AI.Provider)
	}
}
