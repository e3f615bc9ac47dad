// Package httpapi exposes the registry and keeper over HTTP (echo).
//
// Routes:
//
//	GET    /healthz         job count, circuits, supervised goroutines
//	GET    /jobs            POST /jobs
//	GET    /jobs/:id        PUT  /jobs/:id     DELETE /jobs/:id
//	GET    /due             poll one due job (?now=&seed=)
//	GET    /due/all         every due job
//	POST   /execute         {"id":1,"tick":1704067260}
//	POST   /check           compile/preview an expression
//	GET    /runs            recent executions (?limit=&job_id=)
//	GET    /agent           agent snapshot
//	POST   /agent/pass      run one agent pass now
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"cronkeeper/internal/agent"
	"cronkeeper/internal/invoke"
	"cronkeeper/internal/keeper"
	"cronkeeper/internal/registry"
	"cronkeeper/internal/runtime/supervisor"
	"cronkeeper/internal/storage"
	logx "cronkeeper/pkg/logx"
)

type Config struct {
	Addr string
	// Token, when set, must be sent as "Authorization: Bearer <token>".
	Token string
}

// TargetChecker validates job targets before they are stored.
type TargetChecker interface {
	Check(target string) error
}

// AgentControl is the part of *agent.Service the API exposes.
type AgentControl interface {
	Snapshot() agent.Snapshot
	RunPass(ctx context.Context) agent.PassReport
}

// CircuitReporter is implemented by *invoke.Breaker.
type CircuitReporter interface {
	Stats() invoke.CircuitStats
}

// RuntimeReporter reports the supervised goroutines of the process.
type RuntimeReporter interface {
	Snapshot() supervisor.Snapshot
}

// Deps are the services behind the routes. Targets, Agent and Store may be
// nil; their routes then answer 501. Circuits and Runtime are optional parts
// of /healthz.
type Deps struct {
	Registry *registry.Registry
	Keeper   *keeper.Keeper
	Targets  TargetChecker
	Agent    AgentControl
	Store    storage.Store
	Circuits CircuitReporter
	Runtime  RuntimeReporter
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	e    *echo.Echo
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "http"))}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(s.accessLogger())
	if cfg.Token != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Skipper: func(c echo.Context) bool { return c.Path() == "/healthz" },
			Validator: func(key string, c echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Token)) == 1, nil
			},
		}))
	}
	s.routes(e)
	s.e = e
	return s
}

func (s *Server) routes(e *echo.Echo) {
	e.GET("/healthz", s.healthz)

	e.GET("/jobs", s.listJobs)
	e.POST("/jobs", s.createJob)
	e.GET("/jobs/:id", s.getJob)
	e.PUT("/jobs/:id", s.updateJob)
	e.DELETE("/jobs/:id", s.deleteJob)

	e.GET("/due", s.poll)
	e.GET("/due/all", s.dueAll)
	e.POST("/execute", s.execute)
	e.POST("/check", s.check)

	e.GET("/runs", s.runs)
	e.GET("/agent", s.agentSnapshot)
	e.POST("/agent/pass", s.agentPass)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.e.Listener = ln
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()), logx.Bool("auth", s.cfg.Token != ""))

	errCh := make(chan error, 1)
	go func() { errCh <- s.e.Start("") }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.e.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) accessLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.URI == "/healthz" {
				return nil
			}
			fields := []logx.Field{
				logx.String("method", v.Method),
				logx.String("uri", v.URI),
				logx.Int("status", v.Status),
				logx.Duration("took", v.Latency),
				logx.String("remote_ip", c.RealIP()),
			}
			if v.Error != nil {
				s.log.Warn("request", append(fields, logx.Err(v.Error))...)
				return nil
			}
			s.log.Debug("request", fields...)
			return nil
		},
	})
}

type errorBody struct {
	Error string `json:"error"`
}

// errorHandler renders every error as {"error": "..."}.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he := toHTTPError(err)
	msg := http.StatusText(he.Code)
	if m, ok := he.Message.(string); ok && m != "" {
		msg = m
	}
	if he.Code >= http.StatusInternalServerError {
		s.log.Error("request failed", logx.String("uri", c.Request().RequestURI), logx.Err(err))
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(he.Code)
		return
	}
	_ = c.JSON(he.Code, errorBody{Error: strings.TrimSpace(msg)})
}
