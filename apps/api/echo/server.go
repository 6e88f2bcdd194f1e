package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/fixture"
	"github.com/trezcool/kickoff/core/job"
	"github.com/trezcool/kickoff/core/notification"
	"github.com/trezcool/kickoff/core/subscriber"
	"github.com/trezcool/kickoff/core/user"
)

type (
	ServerDeps struct {
		Conf            *core.Config
		Logger          core.Logger
		UserSvc         *user.Service
		FixtureSvc      *fixture.Service
		SubscriberSvc   *subscriber.Service
		NotificationSvc *notification.Service
		JobSvc          *job.Service
		Validate        *validator.Validate
		Translator      ut.Translator
		DisableReqLogs  bool
	}

	Server interface {
		http.Handler
		Start()
		Errors() <-chan error
		ShutdownSignal() <-chan os.Signal
		Shutdown(context.Context) error
		Close() error
	}

	server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(deps ServerDeps) Server {
	if deps.Conf == nil {
		deps.Conf = core.Conf
	}
	s := &server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(newJWTConfig(conf))
	limiter := newRateLimiter(conf.Server.RateLimit, conf.Server.RateBurst, conf.Server.TrustProxy)

	registerUserAPI(v1, jwt, s.deps.UserSvc, s.deps.Validate)
	registerFixtureAPI(v1, jwt, s.deps.FixtureSvc, s.deps.Validate)
	registerSubscriptionAPI(v1, jwt, limiter.middleware(), s.deps.SubscriberSvc, s.deps.Validate)
	registerNotificationAPI(v1, jwt, s.deps.NotificationSvc)
	registerJobAPI(v1, jwt, s.deps.JobSvc)
}

func (s *server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *server) Errors() <-chan error {
	return s.errors
}

func (s *server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *server) Close() error {
	signal.Stop(s.shutdown)
	return s.app.Close()
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+core.Conf.AppName+" API!")
}
