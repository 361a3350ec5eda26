package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spc2mqtt/internal/logger"
	"spc2mqtt/internal/service"
)

// Handler wires the debug HTTP surface to the services. Everything here is
// read-only: control goes through MQTT.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs the HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", h.health)
	router.GET("/state", h.state)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// stateEnvelope is the /state response body.
type stateEnvelope struct {
	Panel        any       `json:"panel"`
	Controller   any       `json:"controller,omitempty"`
	StateAt      time.Time `json:"state_at,omitempty"`
	ControllerAt time.Time `json:"controller_at,omitempty"`
}

func (h *Handler) state(c *gin.Context) {
	stateAt, controllerAt := h.services.UpdatedAt()
	c.JSON(http.StatusOK, stateEnvelope{
		Panel:        h.services.PanelState(),
		Controller:   h.services.ControllerState(),
		StateAt:      stateAt,
		ControllerAt: controllerAt,
	})
}
