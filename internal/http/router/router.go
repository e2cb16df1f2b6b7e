package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/medmatch-backend/internal/config"
	"github.com/ignatzorin/medmatch-backend/internal/http/handlers"
	"github.com/ignatzorin/medmatch-backend/internal/http/middleware"
	"github.com/ignatzorin/medmatch-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	escrowHandler *handlers.EscrowHandler,
	matchHandler *handlers.MatchHandler,
	pharmacyHandler *handlers.PharmacyHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	api.GET("/ws", wsHandler.Handle)

	auth := middleware.AuthMiddleware(tokenManager)
	rateLimit := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)

	escrow := api.Group("/escrow")
	escrow.Use(auth)
	{
		escrow.POST("", rateLimit, escrowHandler.Initiate)
		escrow.GET("", escrowHandler.List)
		escrow.GET("/:id", middleware.UUIDValidator("id"), escrowHandler.Get)
		escrow.GET("/:id/ledger", middleware.UUIDValidator("id"), escrowHandler.Ledger)
		escrow.POST("/:id/fund", middleware.UUIDValidator("id"), escrowHandler.Fund)
		escrow.POST("/:id/cancel", middleware.UUIDValidator("id"), escrowHandler.Cancel)
		escrow.POST("/:id/dispute", middleware.UUIDValidator("id"), escrowHandler.Dispute)
		escrow.POST("/:id/resolve", middleware.UUIDValidator("id"), middleware.RequireRole(service.RoleArbiter), escrowHandler.Resolve)

		milestones := escrow.Group("/:id/milestones/:milestoneId", middleware.UUIDValidator("id"), middleware.UUIDValidator("milestoneId"))
		{
			milestones.POST("/submit", escrowHandler.SubmitMilestone)
			milestones.POST("/approve", escrowHandler.ApproveMilestone)
			milestones.POST("/reject", escrowHandler.RejectMilestone)
			milestones.POST("/resubmit", escrowHandler.ResubmitMilestone)
			milestones.POST("/evidence", escrowHandler.UploadEvidence)
		}
	}

	matches := api.Group("/matches")
	matches.Use(auth)
	{
		matches.POST("", rateLimit, matchHandler.Create)
		matches.GET("", matchHandler.List)
		matches.GET("/:id", middleware.UUIDValidator("id"), matchHandler.Get)
		matches.POST("/:id/fund", middleware.UUIDValidator("id"), matchHandler.Fund)
		matches.POST("/:id/respond", middleware.UUIDValidator("id"), matchHandler.Respond)
		matches.POST("/:id/contact", middleware.UUIDValidator("id"), matchHandler.MarkContact)
		matches.POST("/:id/complete", middleware.UUIDValidator("id"), matchHandler.Complete)
	}

	pharmacy := api.Group("/pharmacy")
	pharmacy.Use(auth)
	{
		pharmacy.POST("/profiles", pharmacyHandler.CreateProfile)
		pharmacy.POST("/interests", pharmacyHandler.ExpressInterest)
		pharmacy.GET("/matches", pharmacyHandler.List)
		pharmacy.GET("/matches/:id", middleware.UUIDValidator("id"), pharmacyHandler.Get)
		pharmacy.POST("/matches/:id/advance", middleware.UUIDValidator("id"), pharmacyHandler.Advance)
		pharmacy.POST("/matches/:id/cancel", middleware.UUIDValidator("id"), pharmacyHandler.Cancel)
	}

	return r
}
