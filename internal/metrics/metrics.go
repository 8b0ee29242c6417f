package metrics

import (
	"net/http"

	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector cuenta los eventos del bus para /metrics. Se engancha al
// Core como observer en el paso de estadísticas.
type Collector struct {
	registry  *prometheus.Registry
	events    *prometheus.CounterVec
	cancelled prometheus.Counter
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatforge_events_total",
			Help: "Events published on the bus, by type.",
		}, []string{"type"}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatforge_events_cancelled_total",
			Help: "Events cancelled by middleware or handlers.",
		}),
	}
	c.registry.MustRegister(c.events, c.cancelled)
	return c
}

// Observe es compatible con events.Observer.
func (c *Collector) Observe(ev *sdk.Event) {
	c.events.WithLabelValues(ev.Type).Inc()
	if ev.Cancelled {
		c.cancelled.Inc()
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
