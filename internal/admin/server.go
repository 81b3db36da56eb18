// Package admin serves the operational HTTP surface of the pipeline:
// health, the current dictionary view, the generated index mapping, and
// the summary of the last transformation run.
package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pedcommons/etl/internal/dictionary"
	"github.com/pedcommons/etl/internal/mapping"
	"github.com/pedcommons/etl/internal/platform/middleware"
)

// Server exposes pipeline state over HTTP.
type Server struct {
	store       *dictionary.Store
	summaryPath string
	log         zerolog.Logger
}

// NewServer builds the admin server. summaryPath is where the transform
// commands leave the last-run summary; it is read fresh on every request so
// the server picks up runs that finish while it is serving.
func NewServer(store *dictionary.Store, summaryPath string, log zerolog.Logger) *Server {
	return &Server{store: store, summaryPath: summaryPath, log: log}
}

func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.handleHealth)
	e.GET("/dictionary", s.handleDictionary)
	e.POST("/dictionary/reload", s.handleReload)
	e.GET("/mapping", s.handleMapping)
	e.GET("/runs/last", s.handleLastRun)
}

// Start runs the admin server until it fails.
func (s *Server) Start(port string) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(s.log))
	e.Use(middleware.Logger(s.log))

	s.RegisterRoutes(e)

	s.log.Info().Str("port", port).Msg("admin server listening")
	return e.Start(":" + port)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": "0.1.0",
	})
}

// handleDictionary reports the node types the cached dictionary defines,
// with property and link counts.
func (s *Server) handleDictionary(c echo.Context) error {
	schema, err := s.store.Schema(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	types := make(map[string]map[string]int, len(schema))
	for name, nt := range schema {
		types[name] = map[string]int{
			"properties": len(nt.Properties),
			"links":      len(nt.Links),
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"node_types": types})
}

func (s *Server) handleReload(c echo.Context) error {
	schema, err := s.store.Reload(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"node_types": len(schema)})
}

func (s *Server) handleMapping(c echo.Context) error {
	schema, err := s.store.Schema(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	m, err := mapping.Generate(schema)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleLastRun(c echo.Context) error {
	if s.summaryPath == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no run recorded")
	}
	summary, err := LoadRunSummary(s.summaryPath)
	if err != nil {
		s.log.Debug().Err(err).Msg("no run summary available")
		return echo.NewHTTPError(http.StatusNotFound, "no run recorded")
	}
	return c.JSON(http.StatusOK, summary)
}
