// Package metrics holds the Prometheus collectors of gdplogd.
//
// The daemon serves them on the admin listener at /metrics; the checker,
// which exits before anything could scrape it, writes them to a textfile
// for node_exporter instead.
//
//	gdplogd ──/metrics──► Prometheus
//	checker ──*.prom────► node_exporter textfile collector
//
// Metric names follow {namespace}_{subsystem}_{name}_{unit}, e.g.
// gdplogd_storage_fsync_latency_seconds or gdplogd_checker_runs_total.
//
// No metric carries a log name label. Names are 256-bit hashes and a data
// root may hold millions of logs; the labels in use (stage, result, index,
// mode, outcome, kind, route, code) all have a handful of values.
package metrics

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns one private Prometheus registry and the gdplogd collector
// groups registered in it. The groups are nil when collection is disabled;
// their methods accept a nil receiver.
type Registry struct {
	prom    *prometheus.Registry
	config  Config
	logger  *slog.Logger
	enabled bool

	Storage *StorageMetrics
	Checker *CheckerMetrics
	API     *APIMetrics
}

// Config controls what a Registry collects.
type Config struct {
	Enabled   bool
	Namespace string

	// Runtime and process collectors. The checker turns both off so its
	// textfile only holds checker results.
	IncludeGoCollector      bool
	IncludeProcessCollector bool

	// HistogramBuckets apply to every latency histogram that does not set
	// its own, in seconds.
	HistogramBuckets []float64
}

// DefaultConfig enables everything under the "gdplogd" namespace.
//
// Appends and index lookups normally complete out of the page cache, so most
// buckets sit below a millisecond; the tail up to 5s is there to make a
// stalled disk visible.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		Namespace:               "gdplogd",
		IncludeGoCollector:      true,
		IncludeProcessCollector: true,
		HistogramBuckets: []float64{
			0.00005, 0.0001, 0.00025, 0.0005,
			0.001, 0.0025, 0.005, 0.01,
			0.05, 0.25, 1, 5,
		},
	}
}

// The storage engine records into the process-wide registry via Get, so
// constructors do not need a metrics parameter. Tests build their own with
// NewRegistry.
var (
	global     *Registry
	globalOnce sync.Once
)

// Init builds the process-wide registry on first call and returns it. Later
// calls ignore config and return the existing registry.
func Init(config Config) *Registry {
	globalOnce.Do(func() {
		global = NewRegistry(config)
	})
	return global
}

// Get returns the process-wide registry, or nil before Init.
func Get() *Registry {
	return global
}

// Handler serves the process-wide registry. It is nil before Init.
func Handler() http.Handler {
	if global == nil {
		return nil
	}
	return global.Handler()
}

// Shutdown flushes the process-wide registry, if any.
func Shutdown() error {
	if global == nil {
		return nil
	}
	return global.Shutdown()
}

// NewRegistry builds a standalone registry.
func NewRegistry(config Config) *Registry {
	logger := slog.Default().With("component", "metrics")
	r := &Registry{
		prom:    prometheus.NewRegistry(),
		config:  config,
		logger:  logger,
		enabled: config.Enabled,
	}
	if !r.enabled {
		logger.Info("metrics disabled")
		return r
	}

	if config.IncludeGoCollector {
		r.prom.MustRegister(collectors.NewGoCollector())
	}
	if config.IncludeProcessCollector {
		r.prom.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	r.Storage = newStorageMetrics(r)
	r.Checker = newCheckerMetrics(r)
	r.API = newAPIMetrics(r)

	logger.Debug("metrics registered", "namespace", config.Namespace)
	return r
}

// Handler serves the registry in the Prometheus or OpenMetrics format,
// whichever the scraper negotiates.
func (r *Registry) Handler() http.Handler {
	if !r.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("# metrics disabled\n"))
		})
	}
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          errorLog{r.logger},
		Registry:          r.prom,
	})
}

// WriteTextfile writes the registry to path in the text exposition format.
// The file is replaced atomically, so a concurrent textfile collector never
// sees a partial write.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.prom)
}

// Shutdown exists for symmetry with the other subsystems; nothing is
// buffered.
func (r *Registry) Shutdown() error {
	r.logger.Debug("metrics registry closed")
	return nil
}

type errorLog struct{ logger *slog.Logger }

func (l errorLog) Println(v ...interface{}) {
	l.logger.Error("metrics handler", "error", v)
}

// The constructors below stamp the configured namespace on the options and
// register the collector, panicking on a duplicate name.

func (r *Registry) newCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = r.config.Namespace
	c := prometheus.NewCounter(opts)
	r.prom.MustRegister(c)
	return c
}

func (r *Registry) newCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace = r.config.Namespace
	c := prometheus.NewCounterVec(opts, labels)
	r.prom.MustRegister(c)
	return c
}

func (r *Registry) newGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = r.config.Namespace
	g := prometheus.NewGauge(opts)
	r.prom.MustRegister(g)
	return g
}

func (r *Registry) newHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	r.histogramDefaults(&opts)
	h := prometheus.NewHistogram(opts)
	r.prom.MustRegister(h)
	return h
}

func (r *Registry) newHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	r.histogramDefaults(&opts)
	h := prometheus.NewHistogramVec(opts, labels)
	r.prom.MustRegister(h)
	return h
}

func (r *Registry) histogramDefaults(opts *prometheus.HistogramOpts) {
	opts.Namespace = r.config.Namespace
	if opts.Buckets == nil {
		opts.Buckets = r.config.HistogramBuckets
	}
}
