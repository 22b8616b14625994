package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bluepicking/fulfillment-service/config"
	"github.com/bluepicking/fulfillment-service/internal/application"
	"github.com/bluepicking/fulfillment-service/internal/infrastructure/carrier"
	mongoRepo "github.com/bluepicking/fulfillment-service/internal/infrastructure/mongodb"
	"github.com/bluepicking/fulfillment-service/internal/infrastructure/odoo"
	apperrors "github.com/bluepicking/fulfillment-service/pkg/errors"
	"github.com/bluepicking/fulfillment-service/pkg/kafka"
	"github.com/bluepicking/fulfillment-service/pkg/logging"
	"github.com/bluepicking/fulfillment-service/pkg/metrics"
	pkgmongo "github.com/bluepicking/fulfillment-service/pkg/mongodb"
)

const serviceName = "fulfillment-service"

func main() {
	logger := logging.New(logging.DefaultConfig(serviceName))
	logger.SetDefault()

	logger.Info("Starting fulfillment-service API")

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	ctx := context.Background()
	m := metrics.New(metrics.DefaultConfig(serviceName))

	mongoConfig := pkgmongo.DefaultConfig()
	mongoConfig.URI = cfg.Mongo.URI
	mongoConfig.Database = cfg.Mongo.DBName
	mongoClient, err := pkgmongo.NewClient(ctx, mongoConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to MongoDB")
		os.Exit(1)
	}
	defer mongoClient.Close(ctx)
	logger.Info("Connected to MongoDB", "database", cfg.Mongo.DBName)

	orderRepo := mongoRepo.NewOrderRepository(mongoClient.Database())
	recordRepo := mongoRepo.NewFulfillmentRecordRepository(mongoClient.Database())

	odooClient, err := odoo.NewClient(&odoo.Config{
		URL:     cfg.Odoo.URL,
		DB:      cfg.Odoo.DB,
		Login:   cfg.Odoo.Login,
		APIKey:  cfg.Odoo.APIKey,
		Timeout: cfg.Odoo.Timeout,
	}, logger, m)
	if err != nil {
		logger.WithError(err).Error("Failed to configure remote client")
		os.Exit(1)
	}
	gateway := odoo.NewGateway(odooClient, logger)
	logger.Info("Remote client configured", "url", cfg.Odoo.URL)

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		kafkaConfig := kafka.DefaultConfig()
		kafkaConfig.Brokers = cfg.Kafka.Brokers
		producer = kafka.NewProducer(kafkaConfig)
		defer producer.Close()
		logger.Info("Kafka producer initialized", "brokers", cfg.Kafka.Brokers)
	}

	var labeler application.ShipmentLabeler
	if cfg.Carrier.URL != "" {
		labeler = carrier.NewClient(carrier.Config{
			URL:     cfg.Carrier.URL,
			APIKey:  cfg.Carrier.APIKey,
			Timeout: cfg.Carrier.Timeout,
		})
		logger.Info("Carrier integration configured", "url", cfg.Carrier.URL)
	}

	syncService := application.NewSyncService(orderRepo, recordRepo, gateway, producer, logger, m)
	fulfillmentService := application.NewFulfillmentService(
		orderRepo,
		recordRepo,
		gateway,
		syncService,
		producer,
		labeler,
		application.EngineSettings{
			AutoConfirmOnPush:      cfg.Engine.AutoConfirmOnPush,
			CreateBackorderDefault: cfg.Engine.CreateBackorderDefault,
			DefaultLabelFormat:     cfg.Engine.DefaultLabelFormat,
		},
		logger,
		m,
	)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(observabilityMiddleware(logger, m))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})
	router.GET("/ready", func(c *gin.Context) {
		if err := mongoClient.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	router.POST("/webhooks/odoo", webhookHandler(syncService, logger))

	api := router.Group("/api/v1")
	{
		orders := api.Group("/orders")
		{
			orders.POST("/sync", syncOrderHandler(syncService, logger))
			orders.POST("/sync/batch", syncBatchHandler(syncService, logger))
			orders.GET("/:id", getOrderHandler(fulfillmentService, logger))
			orders.GET("/:id/remaining", getRemainingHandler(fulfillmentService, logger))
			orders.POST("/:id/prepared", recordPreparedHandler(fulfillmentService, logger))
			orders.POST("/:id/push", pushHandler(fulfillmentService, cfg.Engine.CreateBackorderDefault, logger))
			orders.GET("/:id/delivery-state", deliveryStateHandler(fulfillmentService, logger))
			orders.POST("/:id/confirm", confirmOrderHandler(fulfillmentService, logger))
			orders.POST("/:id/cancel", cancelOrderHandler(fulfillmentService, logger))
			orders.POST("/:id/refresh-lines", refreshLinesHandler(fulfillmentService, logger))
			orders.POST("/:id/label", labelHandler(fulfillmentService, logger))
		}
		api.POST("/pickings/sync", syncPickingsHandler(syncService, logger))
		api.GET("/deliveries", listDeliveriesHandler(fulfillmentService, logger))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Server error")
		}
	}()
	logger.Info("Server started", "port", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("requestID", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func observabilityMiddleware(logger *logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		m.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), duration)
		logger.HTTPRequest(c.Request.Context(), c.Request.Method, path, c.Writer.Status(), duration, c.ClientIP())
	}
}

// respondError maps an application error to its HTTP representation.
func respondError(c *gin.Context, logger *logging.Logger, err error) {
	appErr := apperrors.FromError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.WithError(err).Error("Request failed", "path", c.Request.URL.Path)
	}
	c.JSON(appErr.HTTPStatus, gin.H{"error": gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
	}})
}

func syncOrderHandler(service *application.SyncService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Ref string `json:"ref" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		order, err := service.SyncOrder(c.Request.Context(), application.SyncOrderCommand{Ref: req.Ref})
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func syncBatchHandler(service *application.SyncService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			States []string `json:"states"`
			Since  string   `json:"since"`
			Until  string   `json:"until"`
			Limit  int      `json:"limit"`
			Offset int      `json:"offset"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := service.SyncBatch(c.Request.Context(), application.SyncBatchCommand{
			States: req.States,
			Since:  req.Since,
			Until:  req.Until,
			Limit:  req.Limit,
			Offset: req.Offset,
		})
		if err != nil && !apperrors.HasCode(err, apperrors.CodePartialSync) {
			respondError(c, logger, err)
			return
		}
		// Partial failures still return the per-item breakdown.
		c.JSON(http.StatusOK, result)
	}
}

func webhookHandler(service *application.SyncService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := service.SyncWebhook(c.Request.Context(), body)
		if err != nil && !apperrors.HasCode(err, apperrors.CodePartialSync) {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func getOrderHandler(service *application.FulfillmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := service.GetOrder(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func getRemainingHandler(service *application.FulfillmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		remaining, err := service.GetRemaining(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, remaining)
	}
}

func recordPreparedHandler(service *application.FulfillmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Quantities map[int64]float64 `json:"quantities" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		order, err := service.RecordPrepared(c.Request.Context(), application.RecordPreparedCommand{
			OrderID:    c.Param("id"),
			Quantities: req.Quantities,
		})
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func pushHandler(service *application.FulfillmentService, backorderDefault bool, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CreateBackorder *bool `json:"createBackorder"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		createBackorder := backorderDefault
		if req.CreateBackorder != nil {
			createBackorder = *req.CreateBackorder
		}

		result, err := service.PushAndValidate(c.Request.Context(), application.PushCommand{
			OrderID:         c.Param("id"),
			CreateBackorder: createBackorder,
		})
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func deliveryStateHandler(service *application.FulfillmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := service.GetBestDeliveryState(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

func confirmOrderHandler(service *application.FulfillmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := service.ConfirmOrder(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func cancelOrderHandler(service *application.FulfillmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := service.CancelOrder(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func refreshLinesHandler(service *application.FulfillmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := service.RefreshLines(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func labelHandler(service *application.FulfillmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		label, err := service.CreateLabel(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, label)
	}
}

func syncPickingsHandler(service *application.SyncService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			States []string `json:"states"`
			Since  string   `json:"since"`
			Limit  int      `json:"limit"`
			Offset int      `json:"offset"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		count, err := service.SyncPickings(c.Request.Context(), application.SyncPickingsCommand{
			States: req.States,
			Since:  req.Since,
			Limit:  req.Limit,
			Offset: req.Offset,
		})
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"mirrored": count})
	}
}

func listDeliveriesHandler(service *application.FulfillmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
		offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

		deliveries, err := service.ListDeliveries(c.Request.Context(), application.ListDeliveriesQuery{
			State:  c.Query("state"),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deliveries": deliveries, "count": len(deliveries)})
	}
}
