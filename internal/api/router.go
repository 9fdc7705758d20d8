package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AbhinavJain2107/unihive/internal/api/handlers"
	"github.com/AbhinavJain2107/unihive/internal/api/middleware"
	"github.com/AbhinavJain2107/unihive/internal/config"
	"github.com/AbhinavJain2107/unihive/internal/realtime"
	"github.com/AbhinavJain2107/unihive/internal/services"
	"github.com/AbhinavJain2107/unihive/internal/storage"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, db *mongo.Database, rdb *redis.Client, taskClient handlers.IAsynqClient, configSvc services.IConfigService) *gin.Engine {
	// Initialize services needed by API handlers
	identityService := services.NewIdentityService(db, cfg)
	listingService := services.NewListingService(db, cfg)
	hub := realtime.NewHub(rdb)
	negotiationService := services.NewNegotiationService(db, cfg, listingService, hub)
	messageService := services.NewMessageService(db, cfg, hub)
	adminService := services.NewAdminService(db, cfg)

	s3StorageService, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg, configSvc)

	// Global middleware first (order matters)
	r.Use(middleware.CORSMiddleware(cfg.CorsAllowedOrigins))
	r.Use(rateLimiter.Limit())

	// Initialize handlers
	jsonApiHandler := handlers.NewJsonApiHandler(
		cfg, taskClient, identityService, listingService, negotiationService, messageService, adminService, configSvc)
	restConfigHandler := handlers.NewRestConfigHandler(configSvc)
	restListingHandler := handlers.NewRestListingHandler(listingService)
	restMemberHandler := handlers.NewRestMemberHandler(identityService, listingService)
	restNegotiationHandler := handlers.NewRestNegotiationHandler(negotiationService, messageService, hub)
	restUploadHandler := handlers.NewRestUploadHandler(s3StorageService)

	v1 := r.Group("/v1")
	{
		// Public routes (rate limiting already applied globally)
		v1.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
		v1.POST("/api", jsonApiHandler.HandleRequest)
		v1.GET("/config", restConfigHandler.GetPublicConfig)
		v1.GET("/listings", restListingHandler.SearchListings)
		v1.GET("/listings/:id", restListingHandler.GetListingByID)
		v1.GET("/members/:id", restMemberHandler.GetMemberByID)

		// Authenticated routes
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/negotiations", restNegotiationHandler.ListNegotiations)
			authRequired.GET("/negotiations/:id", restNegotiationHandler.GetNegotiation)
			authRequired.GET("/negotiations/:id/messages", restNegotiationHandler.GetMessages)
			authRequired.GET("/negotiations/:id/feed", restNegotiationHandler.NegotiationFeed)
			authRequired.GET("/feed", restNegotiationHandler.MemberFeed)
			authRequired.POST("/upload", restUploadHandler.Upload)
		}
	}

	return r
}
