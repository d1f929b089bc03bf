// HTTP administration API for protection settings, statistics, and warnings.
package adminapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/engine"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// registered once per process; the collectors live in the default registry
var metricsMiddleware = sync.OnceValue(func() echo.MiddlewareFunc {
	return echoprometheus.NewMiddleware("guardian_admin")
})

type Server struct {
	engine *engine.Engine
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger
}

type Config struct {
	Logger *slog.Logger
	Bind   string
	// bearer token required on every route except the health check; empty disables auth
	Token string
}

func NewServer(eng *engine.Engine, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		engine: eng,
		echo:   e,
		logger: logger.With("system", "adminapi"),
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(otelecho.Middleware("guardian-admin"))
	e.Use(middleware.Recover())
	e.Use(metricsMiddleware())
	e.Use(middleware.BodyLimit("64K"))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.HandleHealthCheck)

	g := e.Group("/communities/:community")
	if config.Token != "" {
		g.Use(middleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(config.Token)) == 1, nil
		}))
	}
	g.GET("/stats", srv.HandleGetStats)
	g.PUT("/raid", srv.HandleStartRaid)
	g.DELETE("/raid", srv.HandleStopRaid)
	g.PUT("/spam", srv.HandleStartSpam)
	g.DELETE("/spam", srv.HandleStopSpam)
	g.POST("/spam/ignore/:channel", srv.HandleIgnore)
	g.PUT("/mention", srv.HandleStartMention)
	g.DELETE("/mention", srv.HandleStopMention)
	g.GET("/members/:member/warnings", srv.HandleListWarnings)
	g.POST("/members/:member/warnings", srv.HandleWarn)
	g.POST("/members/:member/forgive", srv.HandleForgive)
	g.GET("/punish-rules", srv.HandleListPunishRules)
	g.PUT("/punish-rules/:count", srv.HandleSetPunishRule)
	g.DELETE("/punish-rules/:count", srv.HandleDeletePunishRule)
	g.PUT("/warn-expiry", srv.HandleSetWarnExpiry)

	return srv
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// RunAPI serves until Shutdown is called.
func (srv *Server) RunAPI() error {
	srv.logger.Info("starting admin server", "bind", srv.httpd.Addr)
	if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down admin server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	resp := ErrorResponse{Error: "InternalError"}
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		resp.Error = http.StatusText(code)
		if msg, ok := he.Message.(string); ok {
			resp.Message = msg
		}
	case errors.Is(err, protect.ErrInvalidSettings):
		code = http.StatusBadRequest
		resp = ErrorResponse{Error: "InvalidSettings", Message: err.Error()}
	case errors.Is(err, protect.ErrNotRunning):
		code = http.StatusNotFound
		resp = ErrorResponse{Error: "NotRunning", Message: err.Error()}
	}
	if code >= 500 {
		srv.logger.Warn("admin-http-internal-error", "err", err)
	}
	if !c.Response().Committed {
		c.JSON(code, resp)
	}
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "guardian"})
}
