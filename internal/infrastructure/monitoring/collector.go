package monitoring

import (
	"peerchat/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector is the prometheus-backed StatsRecorder.
type Collector struct {
	eventsApplied *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec

	callsStarted *prometheus.CounterVec
	callsEnded   *prometheus.CounterVec
	typingTimers prometheus.Gauge

	channelReconnects prometheus.Counter
}

// NewCollector registers the peerchat metrics on the given registerer. Pass
// prometheus.DefaultRegisterer outside of tests.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		eventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerchat_events_applied_total",
			Help: "Server events applied to local state, by event name",
		}, []string{"event"}),

		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerchat_events_dropped_total",
			Help: "Server events dropped without effect, by event name and reason",
		}, []string{"event", "reason"}),

		callsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerchat_calls_started_total",
			Help: "Outgoing and accepted calls, by media kind",
		}, []string{"kind"}),

		callsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerchat_calls_ended_total",
			Help: "Ended calls, by the phase they were in when they ended",
		}, []string{"phase"}),

		typingTimers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "peerchat_typing_timers_active",
			Help: "Typing decay timers currently armed",
		}),

		channelReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "peerchat_channel_reconnects_total",
			Help: "Event channel reconnect attempts that succeeded",
		}),
	}
}

func (c *Collector) EventApplied(event string) {
	c.eventsApplied.WithLabelValues(event).Inc()
}

func (c *Collector) EventDropped(event string, reason string) {
	c.eventsDropped.WithLabelValues(event, reason).Inc()
}

func (c *Collector) CallStarted(kind domain.CallKind) {
	c.callsStarted.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) CallEnded(phase domain.CallPhase) {
	c.callsEnded.WithLabelValues(string(phase)).Inc()
}

func (c *Collector) TypingTimers(active int) {
	c.typingTimers.Set(float64(active))
}

// ChannelReconnected is wired to the socket client's reconnect path.
func (c *Collector) ChannelReconnected() {
	c.channelReconnects.Inc()
}
