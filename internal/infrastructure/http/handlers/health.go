package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// HealthHandler handles GET /health, the liveness probe.
// Returns 200 immediately; confirms the process is alive.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// @Summary	Liveness probe
// @Tags		health
// @Produce	json
// @Success	200	{object}	map[string]string
// @Router		/health [get]
func (h *HealthHandler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthDependenciesHandler handles GET /health/ready, the readiness probe.
// The conversation store is always checked; Redis and MongoDB only when the
// deployment uses them.
type HealthDependenciesHandler struct {
	store Pinger
	mongo *mongo.Database
	redis *redis.Client
}

// NewHealthDependenciesHandler builds the readiness probe. db and rdb may be nil.
func NewHealthDependenciesHandler(store Pinger, db *mongo.Database, rdb *redis.Client) *HealthDependenciesHandler {
	return &HealthDependenciesHandler{
		store: store,
		mongo: db,
		redis: rdb,
	}
}

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

// @Summary	Readiness probe
// @Tags		health
// @Produce	json
// @Success	200	{object}	readinessResponse
// @Failure	503	{object}	readinessResponse
// @Router		/health/ready [get]
func (h *HealthDependenciesHandler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	deps := make(map[string]dependencyStatus)
	healthy := true
	record := func(name string, err error) {
		if err != nil {
			deps[name] = dependencyStatus{Status: "unhealthy", Error: err.Error()}
			healthy = false
			return
		}
		deps[name] = dependencyStatus{Status: "ok"}
	}

	// --- SQL store ---
	record("database", h.store.Ping(ctx))

	// --- MongoDB ping ---
	if h.mongo != nil {
		err := h.mongo.Client().Ping(ctx, nil)
		if err == nil {
			err = h.mongo.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
		}
		record("mongodb", err)
	}

	// --- Redis ping ---
	if h.redis != nil {
		_, err := h.redis.Ping(ctx).Result()
		record("redis", err)
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, readinessResponse{
		Status:       status,
		Dependencies: deps,
	})
}
