package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/bills_backend/config"
	"github.com/mmdatafocus/bills_backend/middlewares"
	"github.com/mmdatafocus/bills_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App holds the process-wide handles; main builds it once and owns teardown.
type App struct {
	cfg    *config.Config
	db     *gorm.DB
	redis  *config.Redis
	bills  *models.BillManager
	auth   *models.Authenticator
	logger *logrus.Logger
}

func NewApp(cfg *config.Config, db *gorm.DB, rdb *config.Redis) *App {
	codec := models.NewBillCodec(cfg.PhoneRegion, cfg.WireCacheSize)
	return &App{
		cfg:    cfg,
		db:     db,
		redis:  rdb,
		bills:  models.NewBillManager(db, rdb, codec, cfg.ListCacheTTL),
		auth:   models.NewAuthenticator(cfg.Admin, cfg.Session.IdleTimeout, models.NewSessionStore(rdb)),
		logger: config.GetLogger(),
	}
}

// NewRouter installs the middleware chain and every route.
func NewRouter(app *App) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.MetricsMiddleware())
	r.Use(cors.New(corsConfig(app.cfg)))
	if app.cfg.RateLimit.Enabled {
		rateLimiter := middlewares.NewRateLimiter(app.redis.Client(), app.cfg.RateLimit.MaxRequests, app.cfg.RateLimit.Window)
		r.Use(rateLimiter.RateLimitMiddleware)
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics", "/api/export-bills"})))
	r.Use(middlewares.SessionMiddleware(app.auth, app.cfg.Session))
	r.Use(middlewares.ErrorLogger(app.logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", middlewares.MetricsHandler())

	api := r.Group("/api")
	api.GET("/health", app.healthHandler)
	api.GET("/test-db", app.testDbHandler)
	api.POST("/login", app.loginHandler)
	api.POST("/logout", app.logoutHandler)

	authed := api.Group("", middlewares.RequireSession())
	authed.GET("/me", app.meHandler)
	authed.POST("/save-bill", app.saveBillHandler)
	authed.GET("/get-bills", app.getBillsHandler)
	authed.GET("/bills/:estimateNo", app.getBillHandler)
	authed.PATCH("/update-bill", app.updateBillHandler)
	authed.DELETE("/delete-bill", app.deleteBillHandler)
	authed.GET("/get-deleted-bills", app.getDeletedBillsHandler)
	authed.POST("/restore-bill", app.restoreBillHandler)
	authed.DELETE("/permanent-delete-bill", app.permanentDeleteBillHandler)
	authed.GET("/export-bills", app.exportBillsHandler)
	authed.GET("/bill-history", app.billHistoryHandler)

	r.NoRoute(customNotFoundHandler)
	return r
}

// corsConfig allows every origin outside production. In production only
// CORS_ALLOWED_ORIGINS is allowed, and nothing when it is unset.
func corsConfig(cfg *config.Config) cors.Config {
	corsConfig := cors.DefaultConfig()
	if cfg.IsProduction() {
		if len(cfg.CorsAllowedOrigins) == 0 {
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		} else {
			corsConfig.AllowOrigins = cfg.CorsAllowedOrigins
		}
	} else {
		// echo the origin so credentialed requests work in development
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	}
	corsConfig.AddAllowMethods("GET", "POST", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", middlewares.CorrelationIdHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationIdHeader)
	corsConfig.AllowCredentials = true
	return corsConfig
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "route not found"})
}

func main() {
	cfg := config.Load()
	logger := config.GetLogger()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Admin.Email == "" || (cfg.Admin.Password == "" && cfg.Admin.PasswordHash == "") {
		logger.WithFields(logrus.Fields{"field": "admin"}).Warn("ADMIN_EMAIL / ADMIN_PASSWORD not set; every login will be rejected")
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	db, err := config.ConnectDatabaseWithRetry(sigCtx, cfg.Database)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "database"}).Fatal(err.Error())
	}
	defer func() {
		if err := config.CloseDatabase(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "database"}).Warn("closing database: " + err.Error())
		}
	}()

	// AutoMigrate can hold table locks; allow running it as a separate job.
	if !cfg.SkipMigrations {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	rdb, err := config.ConnectRedisWithRetry(sigCtx, cfg.Redis)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "redis"}).Fatal(err.Error())
	}
	defer func() {
		_ = rdb.Close()
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(NewApp(cfg, db, rdb)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on :", cfg.Port)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests before the pool and redis are closed by the defers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
