package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/socialflow/resilience/pkg/config"
	apperrors "github.com/socialflow/resilience/pkg/errors"
	"github.com/socialflow/resilience/pkg/health"
	"github.com/socialflow/resilience/pkg/logging"
	"github.com/socialflow/resilience/pkg/metrics"
	"github.com/socialflow/resilience/pkg/resilience"
	"github.com/socialflow/resilience/pkg/tracing"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "statusd",
		Version:     "1.0.0",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	tracer, err := tracing.NewService(&tracing.Config{
		ServiceName:    "statusd",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}

	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Enabled:   cfg.Metrics.Enabled,
	})

	alertManager := resilience.NewAlertManager()
	alertManager.AddHandler(resilience.NewLoggingAlertHandler())
	alerter := resilience.NewStateChangeAlerter(alertManager)

	registry := resilience.NewRegistry()
	m.RegisterBreakers(registry)

	metricsHook := m.StateChangeHook()
	alertHook := alerter.Hook()

	upstreamURL := os.Getenv("UPSTREAM_URL")
	guarded := resilience.NewGuardedOperation("upstream", registry,
		resilience.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
			HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
			ExcludedErrors: []resilience.ErrorMatcher{
				resilience.MatchType(apperrors.ErrorTypeValidation),
			},
			OnStateChange: func(name string, from, to resilience.CircuitState) {
				metricsHook(name, from, to)
				alertHook(name, from, to)
			},
		},
		resilience.RetryConfig{
			MaxRetries:    cfg.Retry.MaxRetries,
			BackoffFactor: cfg.Retry.BackoffFactor,
		},
	)

	httpClient := tracer.InstrumentHTTPClient(&http.Client{Timeout: 10 * time.Second})

	healthService := health.NewService(logger, &health.Config{
		Timeout: 5 * time.Second,
		Metadata: map[string]string{
			"service": "statusd",
			"version": "1.0.0",
		},
	})
	healthService.RegisterChecker("circuit_breakers", health.NewBreakerChecker(registry))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())
	router.Use(m.Middleware())
	router.Use(tracer.Middleware())

	router.GET("/health", healthService.Handler())
	router.GET("/health/live", healthService.LivenessHandler())
	router.GET("/health/ready", healthService.ReadinessHandler())
	router.GET("/metrics", m.Handler())

	router.GET("/breakers", func(c *gin.Context) {
		c.JSON(http.StatusOK, registry.Report())
	})

	router.POST("/breakers/:name/reset", func(c *gin.Context) {
		name := c.Param("name")
		cb, ok := registry.Get(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no breaker named '%s'", name)})
			return
		}
		cb.Reset()
		c.JSON(http.StatusOK, cb.Status())
	})

	// Demo endpoint: a breaker-and-retry guarded call to the configured upstream
	router.GET("/call", func(c *gin.Context) {
		if upstreamURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "UPSTREAM_URL is not configured"})
			return
		}

		result, err := guarded.ExecuteContext(c.Request.Context(), func(ctx context.Context) (interface{}, error) {
			return fetchUpstream(ctx, httpClient, upstreamURL)
		})
		if err != nil {
			status := http.StatusBadGateway
			if resilience.IsOpenError(err) {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{
				"error":   err.Error(),
				"breaker": guarded.State().String(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"upstream": result,
			"breaker":  guarded.State().String(),
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting status server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down status server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := tracer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Tracer shutdown failed")
	}

	logger.Info("Status server stopped")
}

// fetchUpstream performs one GET against the upstream, mapping transport
// failures and 5xx responses to typed errors the breaker can classify.
func fetchUpstream(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid upstream URL: %v", err))
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", apperrors.NewExternalError("upstream", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperrors.NewExternalError("upstream", err.Error()).WithCause(err)
	}

	if resp.StatusCode >= 500 {
		return "", apperrors.NewExternalError("upstream", fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return "", apperrors.NewValidationError(fmt.Sprintf("upstream rejected request: HTTP %d", resp.StatusCode))
	}

	return string(body), nil
}
