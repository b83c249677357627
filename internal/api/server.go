package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/ton-confirmer/internal/history"
	"github.com/vultisig/ton-confirmer/internal/logging"
	"github.com/vultisig/ton-confirmer/internal/metrics"
	"github.com/vultisig/ton-confirmer/internal/storage"
	"github.com/vultisig/ton-confirmer/tx_confirmer"
)

// Submitter is satisfied by *tx_confirmer.Submitter.
type Submitter interface {
	Submit(ctx context.Context, req tx_confirmer.TransferRequest) (tx_confirmer.Submission, error)
	Minimum() decimal.Decimal
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is the part of *asynq.Inspector used to stop polling.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	CancelProcessing(id string) error
	DeleteTask(queue, id string) error
}

type Options struct {
	Addr    string
	Network string
	// TaskTimeout bounds one run of a confirmation task.
	TaskTimeout time.Duration
}

type Server struct {
	opts        Options
	logger      *logrus.Logger
	submitter   Submitter
	history     history.Store
	progress    storage.ProgressStore
	client      Enqueuer
	inspector   TaskInspector
	httpMetrics *metrics.HTTPMetrics
	now         func() time.Time
}

// NewServer returns a new server. httpMetrics may be nil.
func NewServer(
	opts Options,
	logger *logrus.Logger,
	submitter Submitter,
	hist history.Store,
	progress storage.ProgressStore,
	client Enqueuer,
	inspector TaskInspector,
	httpMetrics *metrics.HTTPMetrics,
) *Server {
	return &Server{
		opts:        opts,
		logger:      logger.WithField("pkg", "api").Logger,
		submitter:   submitter,
		history:     hist,
		progress:    progress,
		client:      client,
		inspector:   inspector,
		httpMetrics: httpMetrics,
		now:         time.Now,
	}
}

func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID())
	e.Use(logging.LoggerMiddleware(s.logger))
	e.Use(s.httpMetrics.Middleware())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.CORS())
	limiterStore := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{Rate: 5, Burst: 30, ExpiresIn: 5 * time.Minute},
	)
	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool { return c.Path() == "/healthz" },
		Store:   limiterStore,
	}))

	e.Validator = newRequestValidator()

	e.GET("/healthz", s.Health)

	transfers := e.Group("/api/v1/transfers")
	transfers.POST("", s.CreateTransfer)
	transfers.GET("", s.ListTransfers)
	transfers.DELETE("", s.ClearTransfers)
	transfers.GET("/:hash", s.GetTransfer)
	transfers.DELETE("/:hash/poll", s.CancelPolling)

	return e
}

// StartServer serves until ctx is cancelled.
func (s *Server) StartServer(ctx context.Context) error {
	e := s.Echo()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("api server shutdown error")
		}
	}()

	s.logger.WithField("addr", s.opts.Addr).Info("api server listening")
	if err := e.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}
