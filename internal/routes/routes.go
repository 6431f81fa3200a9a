package routes

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"taskflow/internal/handlers"
	"taskflow/internal/middleware"
)

func SetupRoutes(
	r *gin.Engine,
	jwtSecret []byte,
	authHandler *handlers.AuthHandler,
	taskHandler *handlers.TaskHandler,
	healthHandler *handlers.HealthHandler,
	integrationsHandler *handlers.IntegrationsHandler, // nil без Telegram
) *gin.Engine {
	// ---- public
	r.GET("/", healthHandler.Root)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.NoRoute(handlers.NotFound)

	api := r.Group("/api")
	api.GET("", healthHandler.Root)

	if integrationsHandler != nil {
		api.POST("/integrations/telegram/webhook", integrationsHandler.Webhook)
	}

	auth := api.Group("/auth")
	{
		auth.POST("/signup", authHandler.Signup)
		auth.POST("/login", authHandler.Login)
	}

	// ---- protected
	requireAuth := middleware.AuthMiddleware(jwtSecret)

	me := api.Group("/auth", requireAuth)
	{
		me.GET("/me", authHandler.Me)
		me.PUT("/profile", authHandler.UpdateProfile)
	}

	tasks := api.Group("/tasks", requireAuth)
	{
		tasks.GET("", taskHandler.List)
		tasks.POST("", taskHandler.Create)
		tasks.GET("/report", taskHandler.Report)
		tasks.GET("/:id", taskHandler.GetByID)
		tasks.PUT("/:id", taskHandler.Update)
		tasks.DELETE("/:id", taskHandler.Delete)
		tasks.GET("/:id/attachments/:attachmentId", taskHandler.DownloadAttachment)
		tasks.DELETE("/:id/attachments/:attachmentId", taskHandler.DeleteAttachment)
	}

	if integrationsHandler != nil {
		integr := api.Group("/integrations", requireAuth)
		integr.POST("/telegram/link", integrationsHandler.RequestTelegramLink)
	}

	return r
}
