package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/internal/tasks"
	"github.com/vultisig/txengine/service"
)

type Server struct {
	port      int64
	engine    *service.TransactionService
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	sdClient  statsd.ClientInterface
	logger    *logrus.Logger
}

// NewServer returns a new server. client and inspector may be nil, queued
// execution is then unavailable.
func NewServer(port int64,
	engine *service.TransactionService,
	client *asynq.Client,
	inspector *asynq.Inspector,
	queue string,
	sdClient statsd.ClientInterface) *Server {
	if sdClient == nil {
		sdClient = &statsd.NoOpClient{}
	}
	if queue == "" {
		queue = tasks.DefaultQueue
	}
	return &Server{
		port:      port,
		engine:    engine,
		client:    client,
		inspector: inspector,
		queue:     queue,
		sdClient:  sdClient,
		logger:    logrus.WithField("service", "api").Logger,
	}
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(log.INFO)
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("2M")) // set maximum allowed size for a request body to 2M
	e.Use(s.statsdMiddleware)
	e.Use(middleware.CORS())
	limiterStore := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{Rate: 20, Burst: 60, ExpiresIn: 5 * time.Minute},
	)
	e.Use(middleware.RateLimiter(limiterStore))

	e.GET("/ping", s.Ping)

	txGroup := e.Group("/transactions")
	txGroup.POST("", s.ExecuteTransaction)
	txGroup.GET("/tasks/:taskId", s.GetTaskResult)

	e.POST("/contracts/deploy", s.DeployContract)
	e.POST("/forward-requests", s.BuildForwardRequest)

	chainGroup := e.Group("/chains/:chain")
	chainGroup.GET("/gas-price", s.GetGasPrice)
	chainGroup.POST("/rpc/validate", s.ValidateRPCURL)

	e.GET("/wallets/:walletId/transactions", s.ListTransactions)
	return e
}

func (s *Server) StartServer() error {
	e := s.newEcho()
	s.logger.Infof("starting server on port %d", s.port)
	return e.Start(fmt.Sprintf(":%d", s.port))
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "txengine is running")
}
