package daemon

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loykin/tunnelcheck/internal/metrics"
)

// readyResponse is the wire format of GET /ready.
type readyResponse struct {
	ReadyConnections int    `json:"readyConnections"`
	ConnectorID      string `json:"connectorId"`
}

// MetricsRouter serves the daemon's local observation endpoints:
// /ready, /quicktunnel and /metrics.
type MetricsRouter struct {
	tracker  *Tracker
	hostname string
}

func NewMetricsRouter(tracker *Tracker, quicktunnelHostname string) *MetricsRouter {
	return &MetricsRouter{tracker: tracker, hostname: quicktunnelHostname}
}

// Handler returns the gin handler for the metrics listener.
func (m *MetricsRouter) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/ready", m.handleReady)
	g.GET("/quicktunnel", m.handleQuicktunnel)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// handleReady reports 200 with the connection count while at least one
// connection is up, 503 otherwise. The body is identical in both cases
// so clients can always read the count.
func (m *MetricsRouter) handleReady(c *gin.Context) {
	metrics.IncDaemonRequest("/ready")
	n := m.tracker.ReadyConnections()
	code := http.StatusOK
	if n == 0 {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, readyResponse{
		ReadyConnections: n,
		ConnectorID:      m.tracker.ConnectorID(),
	})
}

func (m *MetricsRouter) handleQuicktunnel(c *gin.Context) {
	metrics.IncDaemonRequest("/quicktunnel")
	c.JSON(http.StatusOK, gin.H{"hostname": m.hostname})
}
