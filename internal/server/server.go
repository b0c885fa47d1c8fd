package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samknelson/sirius-sub007/internal/audit"
	auditdomain "github.com/samknelson/sirius-sub007/internal/audit/domain"
	"github.com/samknelson/sirius-sub007/internal/charge"
	chargedomain "github.com/samknelson/sirius-sub007/internal/charge/domain"
	"github.com/samknelson/sirius-sub007/internal/charge/plugin"
	"github.com/samknelson/sirius-sub007/internal/config"
	"github.com/samknelson/sirius-sub007/internal/observability"
	obsmiddleware "github.com/samknelson/sirius-sub007/internal/observability/logger"
	obstracing "github.com/samknelson/sirius-sub007/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	audit.Module,
	charge.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	chargeSvc chargedomain.Service
	auditSvc  auditdomain.Service
	registry  *plugin.Registry
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	ChargeSvc chargedomain.Service
	AuditSvc  auditdomain.Service
	Registry  *plugin.Registry
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		db:        p.DB,
		log:       p.Log.Named("http.server"),
		genID:     p.GenID,
		chargeSvc: p.ChargeSvc,
		auditSvc:  p.AuditSvc,
		registry:  p.Registry,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	triggers := v1.Group("/triggers")
	triggers.POST("/hours", s.triggerHours)
	triggers.POST("/payments", s.triggerPayment)
	triggers.POST("/participants", s.triggerParticipant)

	chargeGroup := v1.Group("/charge")
	chargeGroup.GET("/plugins", s.listPlugins)
	chargeGroup.GET("/accounts", s.listAccounts)
	chargeGroup.GET("/entries", s.listEntries)
	chargeGroup.POST("/entries/:id/verify", s.verifyEntry)
	chargeGroup.POST("/verify-sweep", s.verifySweep)

	v1.GET("/audit-logs", s.listAuditLogs)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
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
