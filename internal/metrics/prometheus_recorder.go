package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "razzle"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg             *prom.Registry
	compileDuration *prom.HistogramVec
	compileOutcome  *prom.CounterVec
	workerStarts    prom.Counter
	workerExits     *prom.CounterVec
	relayed         *prom.CounterVec
	dropped         prom.Counter
	requestWait     prom.Histogram
}

// NewPrometheusRecorder constructs and registers the metrics on reg. A nil reg
// gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		compileDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Duration of compiles per target",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"target"}),
		compileOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "compile_outcomes_total",
			Help:      "Compile outcomes per target",
		}, []string{"target", "outcome"}),
		workerStarts: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "worker_starts_total",
			Help:      "Server bundle processes started",
		}),
		workerExits: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "worker_exits_total",
			Help:      "Server bundle processes exited, by result",
		}, []string{"result"}),
		relayed: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_messages_total",
			Help:      "Worker console messages forwarded to the terminal",
		}, []string{"level"}),
		dropped: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Worker messages ignored because of their shape",
		}),
		requestWait: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "devserver_request_wait_seconds",
			Help:      "Time requests were held while the client compiled",
			Buckets:   prom.DefBuckets,
		}),
	}
	reg.MustRegister(pr.compileDuration, pr.compileOutcome, pr.workerStarts, pr.workerExits, pr.relayed, pr.dropped, pr.requestWait)
	return pr
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *PrometheusRecorder) ObserveCompileDuration(target string, d time.Duration) {
	p.compileDuration.WithLabelValues(target).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncCompileOutcome(target, outcome string) {
	p.compileOutcome.WithLabelValues(target, outcome).Inc()
}

func (p *PrometheusRecorder) IncWorkerStart() {
	p.workerStarts.Inc()
}

func (p *PrometheusRecorder) IncWorkerExit(clean bool) {
	res := "error"
	if clean {
		res = "clean"
	}
	p.workerExits.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) IncRelayedMessage(level string) {
	p.relayed.WithLabelValues(level).Inc()
}

func (p *PrometheusRecorder) IncDroppedMessage() {
	p.dropped.Inc()
}

func (p *PrometheusRecorder) ObserveRequestWait(d time.Duration) {
	p.requestWait.Observe(d.Seconds())
}
