package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lwnnode_bridge_signals_total",
		Help: "Radio event signals raised, by outcome (pending, coalesced)",
	}, []string{"outcome"})

	WorkerWakeups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lwnnode_worker_wakeups_total",
		Help: "Protocol worker wake-ups by worker name",
	}, []string{"worker"})

	ProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lwnnode_worker_process_duration_seconds",
		Help:    "Duration of a single protocol processing step",
		Buckets: prometheus.DefBuckets,
	}, []string{"worker"})

	JoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lwnnode_joins_total",
		Help: "Join outcomes reported to the application",
	}, []string{"result"})

	UplinksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lwnnode_uplinks_total",
		Help: "Uplink requests by send result",
	}, []string{"result"})

	DownlinksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lwnnode_downlinks_total",
		Help: "Total downlinks delivered to the application",
	})

	RadioFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lwnnode_radio_frames_total",
		Help: "Raw radio frames by direction",
	}, []string{"direction"})

	RadioDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lwnnode_radio_dropped_total",
		Help: "Raw radio receptions dropped because no receive callback was registered",
	})

	ScheduledJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lwnnode_job_execution_duration_seconds",
		Help:    "Duration of scheduled uplink job execution",
		Buckets: prometheus.DefBuckets,
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lwnnode_events_published_total",
		Help: "Total events published by type",
	}, []string{"type"})

	EventSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lwnnode_event_subscriptions_total",
		Help: "Current number of active event subscriptions",
	})

	CodecExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lwnnode_codec_executions_total",
		Help: "Payload codec runs by function (encode, decode) and outcome (ok, error, timeout)",
	}, []string{"function", "outcome"})

	PowerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lwnnode_power_halted",
		Help: "1 once the node has entered the halted state",
	})
)
