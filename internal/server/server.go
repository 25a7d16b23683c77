// Package server is the thin HTTP surface over the reward ledger: the
// webhook ingest endpoint, the read-back API and the operational endpoints.
// All ledger semantics live in internal/ledger; handlers only decode
// payloads and format responses.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wnt/rewards/internal/ledger"
	"github.com/wnt/rewards/internal/logger"
	"github.com/wnt/rewards/internal/metrics"
)

// Ledger is the slice of the ledger store the transport needs.
type Ledger interface {
	Apply(ctx context.Context, payload any) (*ledger.Result, error)
	GetUser(ctx context.Context, address string) (*ledger.UserView, error)
	ListUsers(ctx context.Context) ([]ledger.UserSummary, error)
}

// Server routes HTTP traffic to the ledger.
type Server struct {
	ledger Ledger
	logger zerolog.Logger
	router *gin.Engine
}

// New creates the HTTP server around a ledger.
func New(l Ledger, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		ledger: l,
		logger: log.With().Str("component", "server").Logger(),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.POST("/webhook", s.handleWebhook)
	router.GET("/health", s.handleHealth)
	router.GET("/users", s.handleListUsers)
	router.GET("/users/:address", s.handleGetUser)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = router
	return s
}

// Handler exposes the router for an http.Server or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger tags every request with an id and logs it on completion.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Set("request_id", requestID)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()

		reqLogger := logger.WithRequest(s.logger, requestID)
		reqLogger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

// handleWebhook ingests an event. JSON, form-encoded and plain-text bodies
// are accepted; whatever decodes is handed to the ledger as-is. A storage
// failure is a server error, never a silent success.
func (s *Server) handleWebhook(c *gin.Context) {
	timer := time.Now()
	defer func() {
		metrics.WebhookDuration.Observe(time.Since(timer).Seconds())
	}()

	payload, err := decodePayload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "failed to parse request body",
		})
		return
	}

	result, err := s.ledger.Apply(c.Request.Context(), payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to process webhook")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to process webhook event",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"receivedAt": time.Now().UTC().Format(time.RFC3339),
		"result":     result,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleGetUser(c *gin.Context) {
	view, err := s.ledger.GetUser(c.Request.Context(), c.Param("address"))
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.ledger.ListUsers(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// decodePayload mirrors the content types webhook providers actually send:
// JSON objects, form-encoded fields, or opaque text.
func decodePayload(c *gin.Context) (any, error) {
	contentType := c.ContentType()

	switch {
	case strings.Contains(contentType, "application/json"):
		var payload any
		if err := c.ShouldBindJSON(&payload); err != nil {
			return nil, err
		}
		return payload, nil

	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		if err := c.Request.ParseForm(); err != nil {
			return nil, err
		}
		fields := make(map[string]any, len(c.Request.PostForm))
		for key, values := range c.Request.PostForm {
			if len(values) > 0 {
				fields[key] = values[0]
			}
		}
		return fields, nil

	default:
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, err
		}
		return string(body), nil
	}
}
