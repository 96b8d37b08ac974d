package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/dripflow/internal/audit/domain"
	"github.com/smallbiznis/dripflow/internal/catalog"
	"github.com/smallbiznis/dripflow/internal/config"
	"github.com/smallbiznis/dripflow/internal/observability"
	"github.com/smallbiznis/dripflow/internal/payment/gateway"
	obsmiddleware "github.com/smallbiznis/dripflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dripflow/internal/observability/metrics"
	obstracing "github.com/smallbiznis/dripflow/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/dripflow/internal/payment/domain"
	subscriberdomain "github.com/smallbiznis/dripflow/internal/subscriber/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	catalog       *catalog.Catalog
	charges       *gateway.FallbackPolicy
	webhookSvc    paymentdomain.WebhookService
	paymentSvc    paymentdomain.Service
	subscriberSvc subscriberdomain.Service
	auditSvc      auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	Catalog       *catalog.Catalog
	Charges       *gateway.FallbackPolicy
	WebhookSvc    paymentdomain.WebhookService
	PaymentSvc    paymentdomain.Service
	SubscriberSvc subscriberdomain.Service
	AuditSvc      auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		catalog:       p.Catalog,
		charges:       p.Charges,
		webhookSvc:    p.WebhookSvc,
		paymentSvc:    p.PaymentSvc,
		subscriberSvc: p.SubscriberSvc,
		auditSvc:      p.AuditSvc,
	}

	svc.registerWebhookRoutes()
	svc.registerSubscriberRoutes()
	svc.registerAuditRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payments/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerSubscriberRoutes() {
	subscribers := s.engine.Group("/subscribers")

	subscribers.POST("/:id/enroll", s.EnrollSubscriber)
	subscribers.POST("/:id/offer-shown", s.RecordOfferShown)
	subscribers.POST("/:id/charge", s.CreateCharge)
	subscribers.GET("/:id/status", s.GetSubscriberStatus)

	if s.cfg.Environment != "production" {
		subscribers.POST("/:id/reset", s.ResetSubscriber)
	}
}

func (s *Server) registerAuditRoutes() {
	s.engine.GET("/audit-logs", s.ListAuditLogs)
}
