package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/sequencer/internal/config"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	"github.com/smallbiznis/sequencer/internal/observability"
	obsmiddleware "github.com/smallbiznis/sequencer/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/sequencer/internal/observability/metrics"
	obstracing "github.com/smallbiznis/sequencer/internal/observability/tracing"
	"github.com/smallbiznis/sequencer/internal/ratelimit"
	scoringdomain "github.com/smallbiznis/sequencer/internal/scoring/domain"
	suppressiondomain "github.com/smallbiznis/sequencer/internal/suppression/domain"
	workflowdomain "github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	ratelimit.Module,
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

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type eventIngestLimiter interface {
	Enabled() bool
	AllowOrg(ctx context.Context, orgID string) (*ratelimit.RateLimitResult, error)
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	eventSvc       eventdomain.Service
	suppressionSvc suppressiondomain.Service
	scoringSvc     scoringdomain.Service
	workflowSvc    workflowdomain.Service
	ingestLimiter  eventIngestLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	EventSvc       eventdomain.Service
	SuppressionSvc suppressiondomain.Service
	ScoringSvc     scoringdomain.Service
	WorkflowSvc    workflowdomain.Service
	IngestLimiter  *ratelimit.EventIngestLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics           `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		eventSvc:       p.EventSvc,
		suppressionSvc: p.SuppressionSvc,
		scoringSvc:     p.ScoringSvc,
		workflowSvc:    p.WorkflowSvc,
		obsMetrics:     p.ObsMetrics,
	}
	if p.IngestLimiter != nil {
		svc.ingestLimiter = p.IngestLimiter
	}

	svc.registerHealthRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerHealthRoutes() {
	s.engine.GET("/health", s.Health)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", OrgContext())

	api.POST("/events", s.EventIngestRateLimit(), s.IngestEvent)
	api.GET("/events", s.ListEvents)

	api.GET("/workflows", s.ListWorkflows)
	api.POST("/workflows", s.CreateWorkflow)
	api.GET("/workflows/:id", s.GetWorkflow)
	api.GET("/workflows/:id/versions", s.ListWorkflowVersions)
	api.PATCH("/workflows/:id/status", s.UpdateWorkflowStatus)
	api.POST("/workflows/:id/enrollments", s.EnrollEntity)

	api.GET("/enrollments", s.ListEnrollments)
	api.GET("/enrollments/:id", s.GetEnrollment)
	api.POST("/enrollments/:id/pause", s.PauseEnrollment)
	api.POST("/enrollments/:id/resume", s.ResumeEnrollment)
	api.POST("/enrollments/:id/stop", s.StopEnrollment)

	api.GET("/scores", s.ListScores)
	api.POST("/scores/adjust", s.AdjustScore)
	api.GET("/scores/:entity_id", s.GetScore)

	api.GET("/suppression", s.ListSuppressions)
	api.POST("/suppression", s.CreateSuppression)
	api.POST("/suppression/bulk", s.BulkSuppress)
	api.GET("/suppression/check", s.CheckSuppression)
	api.DELETE("/suppression/:id", s.DeleteSuppression)
}

// Health reports ok only while the store answers pings.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := db.Ping(ctx, s.db); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
