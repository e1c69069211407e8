package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/salesdesk_backend/allocation"
	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/ledger"
	"github.com/mmdatafocus/salesdesk_backend/margins"
	"github.com/mmdatafocus/salesdesk_backend/middlewares"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/reconciliation"
	"github.com/mmdatafocus/salesdesk_backend/sales"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

func main() {
	settings := config.LoadSettings()
	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Listen first so health checks pass while the database comes up; every other
	// route answers 503 until the router is installed.
	var router atomic.Pointer[gin.Engine]
	srv := &http.Server{
		Addr: ":" + settings.Port,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			h := router.Load()
			if h == nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			h.ServeHTTP(w, r)
		}),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !settings.SkipMigrations {
		if err := models.MigrateTable(db, logger); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping schema migrations on startup")
	}

	router.Store(newRouter(sigCtx, settings, models.NewGormStore(db), logger))
	logger.WithFields(logrus.Fields{"port": settings.Port}).Info("salesdesk api ready")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func newRouter(ctx context.Context, settings config.Settings, store *models.GormStore, logger *logrus.Logger) *gin.Engine {
	if settings.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middlewares.CorrelationId())
	r.Use(cors.New(corsConfig(settings)))
	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.Recovery())

	locker := utils.NewRedisLocker(config.GetRedisLock())

	var fetcher reconciliation.InvoiceFetcher
	if client, err := ledger.NewClient(ctx, settings); err == nil {
		fetcher = client
	} else {
		logger.WithFields(logrus.Fields{"field": "ledger"}).Warn(err)
	}
	linkFetcher := fetcher
	if !settings.FreshStatusOnLink {
		linkFetcher = nil
	}
	syncer := reconciliation.NewPaymentSyncer(store, fetcher, locker, settings, logger)

	var publisher reconciliation.Publisher
	if settings.PubSubTopic != "" {
		pub := &reconciliation.PubSubPublisher{Topic: settings.PubSubTopic}
		topicCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := pub.EnsureTopic(topicCtx); err != nil {
			config.LogError(logger, "server", "newRouter", "ensure pubsub topic", settings.PubSubTopic, err)
		}
		cancel()
		publisher = pub
	}

	// Pub/Sub push carries its own token, not a caller identity.
	r.POST("/pubsub/payment-sync", reconciliation.PubSubPushHandler(syncer, store, settings.PubSubPushToken, logger))

	resolver := auth.ChainResolver{
		auth.JWTResolver{Secret: []byte(settings.JwtSecret)},
		auth.SessionResolver{Redis: config.GetRedisDB()},
	}
	api := r.Group("/")
	api.Use(middlewares.AuthMiddleware(resolver, logger))

	sales.RegisterRoutes(api, sales.NewService(store, logger), logger)
	allocation.RegisterRoutes(api, allocation.NewEngine(store, logger), logger)
	reconciliation.RegisterRoutes(api, reconciliation.NewLinker(store, linkFetcher, logger), syncer, publisher, store, logger)
	margins.RegisterRoutes(api, margins.NewRecalculator(store, locker, logger), logger)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found", "code": utils.KindNotFound})
	})
	return r
}

func corsConfig(settings config.Settings) cors.Config {
	c := cors.DefaultConfig()
	if settings.IsProduction() {
		c.AllowOrigins = settings.AllowedOrigins
		if len(c.AllowOrigins) == 0 {
			c.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		c.AllowAllOrigins = true
	}
	c.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	c.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id")
	c.AddExposeHeaders("Content-Length", "x-correlation-id")
	c.AllowCredentials = true
	return c
}
