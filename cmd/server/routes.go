package main

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/httpapi"
)

const (
	rootRoute          = "/"
	healthRoute        = "/api/health"
	contactRoute       = "/api/contact"
	adminRoutePrefix   = "/api/admin"
	adminRouteContacts = "/contacts"

	corsOriginWildcard      = "*"
	corsHeaderAuthorization = "Authorization"
	corsHeaderContentType   = "Content-Type"
	httpMethodGet           = "GET"
	httpMethodOptions       = "OPTIONS"
	httpMethodPost          = "POST"
)

var (
	corsAllowedMethods = []string{httpMethodPost, httpMethodGet, httpMethodOptions}
	corsAllowedHeaders = []string{corsHeaderAuthorization, corsHeaderContentType}
	corsExposedHeaders = []string{corsHeaderContentType}
)

func newRouter(logger *zap.Logger, frontendOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     frontendOrigins,
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	return router
}

func registerRoutes(
	router *gin.Engine,
	contactHandlers *httpapi.ContactHandlers,
	adminHandlers *httpapi.AdminHandlers,
	adminBearerToken string,
) {
	router.GET(rootRoute, httpapi.Root)
	router.GET(healthRoute, httpapi.Health)
	router.POST(contactRoute, contactHandlers.SubmitContact)

	adminGroup := router.Group(adminRoutePrefix)
	adminGroup.Use(httpapi.AdminAuthMiddleware(adminBearerToken))
	adminGroup.GET(adminRouteContacts, adminHandlers.ListContacts)
}
