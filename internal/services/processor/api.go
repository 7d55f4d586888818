package processor

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type HTTPConfig struct {
	Port          int           `mapstructure:"port"`
	RateLimit     float64       `mapstructure:"rate_limit"` // requests per second per IP
	RateBurst     int           `mapstructure:"rate_burst"`
	ReadyErrorAge time.Duration `mapstructure:"ready_error_age"`
}

// ConnChecker reports broker connectivity; mqtt.Client satisfies it.
type ConnChecker interface {
	IsConnectionOpen() bool
}

// API serves the admin and inspection endpoints.
type API struct {
	service *ProcessorService
	mqtt    ConnChecker
	influx  *SummaryWriter // nil when the summary sink is disabled
	cfg     HTTPConfig
}

func NewAPI(service *ProcessorService, mqtt ConnChecker, influx *SummaryWriter, cfg HTTPConfig) *API {
	return &API{service: service, mqtt: mqtt, influx: influx, cfg: cfg}
}

// NewRouter wires the routes. Probes and metrics are not rate limited.
func (a *API) NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", a.healthz)
	r.GET("/readyz", a.readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	burst := a.cfg.RateBurst
	if burst <= 0 {
		burst = 5
	}
	limit := rate.Limit(a.cfg.RateLimit)
	if a.cfg.RateLimit <= 0 {
		limit = rate.Limit(10)
	}
	api := r.Group("/")
	api.Use(RateLimiter(NewIPRateLimiter(limit, burst, 10*time.Minute)))
	{
		api.GET("/sensors", a.listSensors)
		api.GET("/sensors/:id", a.getSensor)
		api.GET("/summary", a.getSummary)
		api.GET("/stats", a.getStats)
	}
	return r
}

func (a *API) mqttUp() bool {
	return a.mqtt != nil && a.mqtt.IsConnectionOpen()
}

func (a *API) influxOK(minAge time.Duration) bool {
	return a.influx == nil || a.influx.LastErrorAge() > minAge
}

func (a *API) healthz(c *gin.Context) {
	type status struct {
		Status          string   `json:"status"`
		MQTTConnected   bool     `json:"mqtt_connected"`
		InfluxEnabled   bool     `json:"influx_enabled"`
		LastWriteErrorS *float64 `json:"last_write_error_age_sec,omitempty"`
		PointsWritten   int64    `json:"influx_points_written"`
		Sensors         int      `json:"sensors"`
	}
	st := status{
		MQTTConnected: a.mqttUp(),
		InfluxEnabled: a.influx != nil,
		Sensors:       a.service.Manager().Len(),
	}
	if a.influx != nil {
		age := a.influx.LastErrorAge().Seconds()
		st.LastWriteErrorS = &age
		st.PointsWritten = a.influx.Written()
	}
	switch {
	case st.MQTTConnected && a.influxOK(30*time.Second):
		st.Status = "ok"
	case st.MQTTConnected:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	c.JSON(http.StatusOK, st)
}

func (a *API) readyz(c *gin.Context) {
	ready := a.mqttUp() && a.influxOK(a.cfg.ReadyErrorAge)
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ready": ready})
}

func (a *API) listSensors(c *gin.Context) {
	c.JSON(http.StatusOK, a.service.Manager().Snapshots())
}

func (a *API) getSensor(c *gin.Context) {
	h, ok := a.service.Manager().Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown sensor"})
		return
	}
	c.JSON(http.StatusOK, h.Snapshot())
}

func (a *API) getSummary(c *gin.Context) {
	sum, ok := a.service.Watchdog().Latest()
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no summary yet"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (a *API) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.service.Stats())
}
