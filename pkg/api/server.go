// Package api exposes the HTTP surface: the two inbound webhook endpoints,
// the operator query API over discussions and jobs, the knowledge-base
// completion callback, and the health endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/taskbridge/taskbridge/pkg/database"
	"github.com/taskbridge/taskbridge/pkg/flow"
	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/notion"
	"github.com/taskbridge/taskbridge/pkg/pipeline"
	"github.com/taskbridge/taskbridge/pkg/queue"
	"github.com/taskbridge/taskbridge/pkg/services"
	"github.com/taskbridge/taskbridge/pkg/source"
)

// Pipeline is the processing surface the webhook and retry handlers drive.
type Pipeline interface {
	Process(ctx context.Context, sourceType models.SourceType, payload []byte) (*pipeline.Outcome, error)
	Retry(ctx context.Context, discussionID string) (*pipeline.Outcome, error)
}

// Resolver pre-checks the routing key before a webhook is enqueued, so an
// unknown flow surfaces as 404 to the sender instead of failing async.
type Resolver interface {
	Resolve(ctx context.Context, sourceType models.SourceType, routingKey string) (*flow.Resolution, error)
}

// DiscussionReader is the query surface over discussion rows.
type DiscussionReader interface {
	Get(ctx context.Context, id string) (*models.Discussion, error)
	List(ctx context.Context, f services.DiscussionFilters) ([]*models.Discussion, error)
}

// JobReader lists the job ledger for a discussion.
type JobReader interface {
	ListByDiscussion(ctx context.Context, discussionID string) ([]*models.Job, error)
}

// TaskReader is the query surface over created-task rows.
type TaskReader interface {
	ListByDiscussion(ctx context.Context, discussionID string) ([]*models.TaskRecord, error)
	GetByDestPageID(ctx context.Context, destPageID string) (*models.TaskRecord, error)
}

// FlowReader loads flow configuration rows for the callback and output-test
// handlers.
type FlowReader interface {
	GetInput(ctx context.Context, inputID string) (*models.FlowInput, error)
	GetLegacyConfig(ctx context.Context, configID string) (*models.LegacyConfig, error)
	GetOutput(ctx context.Context, outputID string) (*models.FlowOutput, error)
}

// ConnectionTester verifies one output destination is reachable.
type ConnectionTester interface {
	TestConnection(ctx context.Context) error
}

// Config bundles the server's collaborators.
type Config struct {
	DBClient    *database.Client
	Dispatcher  *queue.Dispatcher
	Processor   Pipeline
	Resolver    Resolver
	Discussions DiscussionReader
	Jobs        JobReader
	Tasks       TaskReader
	Flows       FlowReader

	// WebhookSecret, when set, is required in X-Webhook-Token on the
	// webhook endpoints.
	WebhookSecret string

	// NewAdapter and NewTester default to the real constructors when nil.
	NewAdapter func(input *models.FlowInput) (source.Adapter, error)
	NewTester  func(cfg *notion.OutputConfig) ConnectionTester
}

// Server is the HTTP server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	dbClient    *database.Client
	dispatcher  *queue.Dispatcher
	processor   Pipeline
	resolver    Resolver
	discussions DiscussionReader
	jobs        JobReader
	tasks       TaskReader
	flows       FlowReader

	webhookSecret string
	newAdapter    func(input *models.FlowInput) (source.Adapter, error)
	newTester     func(cfg *notion.OutputConfig) ConnectionTester
	logger        *slog.Logger
}

// NewServer creates the server and registers all routes.
func NewServer(cfg Config) *Server {
	if cfg.NewAdapter == nil {
		cfg.NewAdapter = source.New
	}
	if cfg.NewTester == nil {
		cfg.NewTester = func(oc *notion.OutputConfig) ConnectionTester {
			return notion.NewWriter(oc)
		}
	}

	s := &Server{
		echo:          echo.New(),
		dbClient:      cfg.DBClient,
		dispatcher:    cfg.Dispatcher,
		processor:     cfg.Processor,
		resolver:      cfg.Resolver,
		discussions:   cfg.Discussions,
		jobs:          cfg.Jobs,
		tasks:         cfg.Tasks,
		flows:         cfg.Flows,
		webhookSecret: cfg.WebhookSecret,
		newAdapter:    cfg.NewAdapter,
		newTester:     cfg.NewTester,
		logger:        slog.Default().With("component", "api"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)

	hooks := e.Group("/webhooks")
	if s.webhookSecret != "" {
		hooks.Use(requireWebhookToken(s.webhookSecret))
	}
	hooks.POST("/chat", s.chatWebhookHandler)
	hooks.POST("/email", s.emailWebhookHandler)

	v1 := e.Group("/api/v1")
	v1.GET("/discussions", s.listDiscussionsHandler)
	v1.GET("/discussions/:id", s.getDiscussionHandler)
	v1.GET("/discussions/:id/jobs", s.listDiscussionJobsHandler)
	v1.GET("/discussions/:id/tasks", s.listDiscussionTasksHandler)
	v1.POST("/discussions/:id/retry", s.retryDiscussionHandler)
	v1.POST("/callbacks/task-status", s.taskStatusCallbackHandler)
	v1.POST("/outputs/test", s.testOutputHandler)
}

// Start begins serving on addr and blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server starting", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP listener, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP makes the server usable directly in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
