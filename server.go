package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/orderexport_backend/config"
	"bitbucket.org/mmdatafocus/orderexport_backend/export"
	"bitbucket.org/mmdatafocus/orderexport_backend/middlewares"
	"bitbucket.org/mmdatafocus/orderexport_backend/models"
	"bitbucket.org/mmdatafocus/orderexport_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("orderexport-backend")

// requireExportCapability checks the single capability gating both export
// API operations.
func requireExportCapability(ctx context.Context) (int, error) {
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return http.StatusUnauthorized, errors.New("unauthorized")
	}
	user, err := models.GetUserByUsername(ctx, username)
	if err != nil {
		return http.StatusUnauthorized, errors.New("unauthorized")
	}
	if !user.Role.CanExportOrders() {
		return http.StatusForbidden, errors.New("insufficient permissions")
	}
	return http.StatusOK, nil
}

func requireAdmin(ctx context.Context) error {
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return errors.New("unauthorized")
	}
	user, err := models.GetUserByUsername(ctx, username)
	if err != nil || user.Role != models.UserRoleAdmin {
		return errors.New("unauthorized")
	}
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.Username == "" || req.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		token, ok := utils.GetTokenFromContext(ctx)
		if !ok || token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		// Drop the cached user alongside the session so role changes take
		// effect on the next login.
		if username, ok := utils.GetUsernameFromContext(ctx); ok {
			if user, err := models.GetUserByUsername(ctx, username); err == nil {
				_ = user.RemoveInstanceRedis()
			}
		}
		if err := config.RemoveRedisKey("Token:" + token); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func fieldsHandler(catalog *export.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		if status, err := requireExportCapability(c.Request.Context()); err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		opts := catalog.Fields(c.Request.Context())
		c.JSON(http.StatusOK, opts)
	}
}

func invalidateFieldsHandler(catalog *export.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := requireAdmin(c.Request.Context()); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if err := catalog.Invalidate(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"invalidated": true})
	}
}

func exportHandler(exporter *export.Exporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if status, err := requireExportCapability(c.Request.Context()); err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		var req export.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "missing_params",
				"message": "Missing required parameters",
			})
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "export.orders")
		defer span.End()

		artifact, err := exporter.Export(ctx, req)
		if err != nil {
			span.RecordError(err)
			if exportErr, ok := export.AsError(err); ok {
				c.JSON(exportErr.Status, exportErr)
				return
			}
			config.LogError(config.GetLogger(), "server.go", "exportHandler", "Export", req, err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "export_failed",
				"message": "Export failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"file_url": artifact.PublicURL,
			"message":  "Export completed successfully",
		})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Downloads are static files; they do not need the DB.
		if strings.HasPrefix(c.Request.URL.Path, "/exports/") {
			c.Next()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	source := models.GormOrderSource{}
	catalog := export.NewCatalog(source, logger)
	sink := export.NewSinkFromEnv(logger)
	exporter := export.NewExporter(source, catalog, sink, logger)

	r.POST("/api/v1/login", loginHandler())
	r.POST("/api/v1/logout", logoutHandler())
	r.GET("/api/v1/fields", fieldsHandler(catalog))
	r.POST("/api/v1/fields/invalidate", invalidateFieldsHandler(catalog))
	r.POST("/api/v1/export", exportHandler(exporter))
	// Artifacts are plain files under the export directory; serve them at the
	// public URL prefix when the local provider is active.
	if _, isLocal := sink.(*export.LocalSink); isLocal {
		r.Static("/exports", export.LocalExportDir())
	}
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("order export API listening on http://localhost:", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{"correlation_id": cid}).Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return utils.UniqueSlice(out)
}
