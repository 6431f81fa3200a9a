package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	_ "taskflow/docs"
	"taskflow/internal/config"
	"taskflow/internal/handlers"
	"taskflow/internal/middleware"
	"taskflow/internal/pdf"
	"taskflow/internal/repositories"
	"taskflow/internal/routes"
	"taskflow/internal/services"
	"taskflow/internal/storage"
)

// Server is the fully wired HTTP application.
type Server struct {
	Router *gin.Engine
	cfg    *config.Config
	db     *repositories.DB
}

// New opens the database, applies the schema and wires every layer.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret (or JWT_SECRET) is required")
	}

	// === DB ===
	db, err := repositories.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	store, err := storage.NewDiskStore(cfg.Files.RootDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("attachment store: %w", err)
	}

	// === Repos ===
	userRepo := repositories.NewUserRepository(db)
	taskRepo := repositories.NewTaskRepository(db)

	// === Services ===
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	var emailService services.EmailService
	if cfg.Email.SMTPHost != "" {
		emailService = services.NewEmailService(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUser,
			cfg.Email.SMTPPassword,
			cfg.Email.FromEmail,
		)
	} else {
		log.Printf("[app] smtp_host is empty, welcome emails disabled")
	}

	var (
		notifier            services.TaskNotifier
		integrationsHandler *handlers.IntegrationsHandler
	)
	if cfg.Telegram.BotToken != "" {
		linkRepo := repositories.NewTelegramLinkRepository(db)
		tg, err := services.NewTelegramService(cfg.Telegram.BotToken, userRepo, linkRepo, taskRepo)
		if err != nil {
			// без бота сервис продолжает работать
			log.Printf("[app][tg][err] %v", err)
		} else {
			notifier = tg
			integrationsHandler = handlers.NewIntegrationsHandler(tg, cfg.Telegram.WebhookSecret)
		}
	}

	userService := services.NewUserService(userRepo, authService, emailService)
	taskService := services.NewTaskService(taskRepo, store, cfg.MaxUploadBytes(), notifier)
	reportGen := pdf.NewReportGenerator(cfg.Report.FontPath)

	// === Handlers ===
	authHandler := handlers.NewAuthHandler(userService)
	taskHandler := handlers.NewTaskHandler(taskService, userService, reportGen, cfg.MaxUploadBytes())
	healthHandler := handlers.NewHealthHandler(db)

	// === Gin ===
	router := NewRouter(cfg)
	routes.SetupRoutes(router, []byte(cfg.Auth.JWTSecret), authHandler, taskHandler, healthHandler, integrationsHandler)

	return &Server{Router: router, cfg: cfg, db: db}, nil
}

// NewRouter returns the engine with the global middleware stack.
func NewRouter(cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.ClientURL))
	router.MaxMultipartMemory = 8 << 20
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listenAddr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Сервер запущен на %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("[app] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) Close() error {
	if err := s.db.Close(); err != nil {
		log.Printf("Ошибка закрытия БД: %v", err)
		return err
	}
	return nil
}
