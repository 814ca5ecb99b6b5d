// Package admin serves the moderator HTTP API: health, statistics, user
// moderation state and the live decision feed.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/whisper/comment-moderator/internal/ban"
	"github.com/whisper/comment-moderator/internal/modlog"
	"github.com/whisper/comment-moderator/internal/stats"
	"github.com/whisper/comment-moderator/internal/store"
)

// Users is the state machine surface used by the API.
type Users interface {
	Get(ctx context.Context, userID int64) (*ban.Record, error)
	Blacklist(ctx context.Context, userID, moderatorID int64, reason string) error
	ClearEditRestriction(ctx context.Context, userID, moderatorID int64) error
}

// History reads the stored moderation history of a user.
type History interface {
	UserHistory(ctx context.Context, userID int64) (store.UserHistory, error)
	RecentLog(ctx context.Context, userID int64, limit int) ([]modlog.Entry, error)
}

// Reporter produces moderation statistics.
type Reporter interface {
	Aggregate(ctx context.Context, since *time.Time) (stats.Counts, error)
	Report(ctx context.Context) (stats.Report, error)
}

// Pinger checks a dependency for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the server. Feed may be nil.
type Deps struct {
	Users    Users
	History  History
	Reporter Reporter
	DB       Pinger
	Feed     http.Handler
}

// Server is the admin HTTP API.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	token  string
	logger *slog.Logger
}

// NewServer builds the API. When token is not empty, every /api route
// requires "Authorization: Bearer <token>".
func NewServer(deps Deps, token string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		echo:   echo.New(),
		deps:   deps,
		token:  token,
		logger: logger.With("component", "admin"),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "method=${method}, uri=${uri}, status=${status} latency=${latency_human}\n",
	}))
	e.HTTPErrorHandler = s.handleError

	e.GET("/healthz", s.handleHealth)

	api := e.Group("/api", s.checkAuth)
	api.GET("/stats", s.handleStats)
	api.GET("/report", s.handleReport)
	api.GET("/users/:id", s.handleGetUser)
	api.POST("/users/:id/blacklist", s.handleBlacklist)
	api.POST("/users/:id/edit-restriction/clear", s.handleClearEditRestriction)
	if deps.Feed != nil {
		api.GET("/feed", echo.WrapHandler(deps.Feed))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	li, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	s.echo.Listener = li
	s.logger.Info("admin API listening", "addr", li.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.StartServer(&http.Server{ReadHeaderTimeout: 10 * time.Second})
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if err2 := c.JSON(he.Code, map[string]any{"error": he.Message}); err2 != nil {
			s.logger.Warn("write http error", "err", err2)
		}
		return
	}

	code := http.StatusInternalServerError
	if errors.Is(err, ban.ErrStoreUnavailable) {
		code = http.StatusServiceUnavailable
	}
	s.logger.Warn("handler error", "path", c.Path(), "err", err)
	c.JSON(code, map[string]any{"error": err.Error()})
}

func (s *Server) checkAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.token == "" {
			return next(c)
		}
		const pref = "Bearer "
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if !strings.HasPrefix(header, pref) || header[len(pref):] != s.token {
			return echo.ErrForbidden
		}
		return next(c)
	}
}

// HealthStatus is the body of /healthz.
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(c.Request().Context()); err != nil {
			s.logger.Error("healthcheck can't reach the database", "err", err)
			return c.JSON(http.StatusServiceUnavailable, HealthStatus{Status: "error", Message: "can't connect to database"})
		}
	}
	return c.JSON(http.StatusOK, HealthStatus{Status: "ok"})
}

func (s *Server) handleStats(c echo.Context) error {
	var since *time.Time
	if v := c.QueryParam("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be a positive duration like 24h")
		}
		t := time.Now().Add(-d)
		since = &t
	}
	counts, err := s.deps.Reporter.Aggregate(c.Request().Context(), since)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

func (s *Server) handleReport(c echo.Context) error {
	r, err := s.deps.Reporter.Report(c.Request().Context())
	if err != nil {
		return err
	}
	if c.QueryParam("format") == "text" {
		return c.String(http.StatusOK, r.String())
	}
	return c.JSON(http.StatusOK, r)
}

// UserView is the body of GET /api/users/:id.
type UserView struct {
	User    *ban.Record        `json:"user"`
	History *store.UserHistory `json:"history,omitempty"`
	Log     []modlog.Entry     `json:"recent_actions,omitempty"`
}

func userID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	return id, nil
}

func (s *Server) handleGetUser(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	rec, err := s.deps.Users.Get(ctx, id)
	if errors.Is(err, ban.ErrUserNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	if err != nil {
		return err
	}

	view := UserView{User: rec}
	if s.deps.History != nil {
		h, err := s.deps.History.UserHistory(ctx, id)
		if err != nil {
			return err
		}
		view.History = &h
		if view.Log, err = s.deps.History.RecentLog(ctx, id, 20); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusOK, view)
}

// actionRequest is the body of the user action endpoints.
type actionRequest struct {
	ModeratorID int64  `json:"moderator_id"`
	Reason      string `json:"reason"`
}

func (s *Server) bindAction(c echo.Context) (actionRequest, error) {
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.ModeratorID <= 0 {
		return req, echo.NewHTTPError(http.StatusBadRequest, "moderator_id is required")
	}
	return req, nil
}

func (s *Server) handleBlacklist(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	req, err := s.bindAction(c)
	if err != nil {
		return err
	}
	if err := s.deps.Users.Blacklist(c.Request().Context(), id, req.ModeratorID, req.Reason); err != nil {
		return err
	}
	return s.respondUser(c, id)
}

func (s *Server) handleClearEditRestriction(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	req, err := s.bindAction(c)
	if err != nil {
		return err
	}
	if err := s.deps.Users.ClearEditRestriction(c.Request().Context(), id, req.ModeratorID); err != nil {
		return err
	}
	return s.respondUser(c, id)
}

func (s *Server) respondUser(c echo.Context, id int64) error {
	rec, err := s.deps.Users.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, UserView{User: rec})
}
