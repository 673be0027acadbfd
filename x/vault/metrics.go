package vault

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/V1C70RYG0D/Nen-sub008/errors"
)

// Metrics holds the prometheus collectors of the vault manager. Collectors
// are created unregistered; call Register to attach them to a registry.
type Metrics struct {
	Operations    *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	LedgerSeconds prometheus.Histogram
	VaultsCreated prometheus.Counter
}

// NewMetrics returns unregistered vault manager collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "vault",
			Name:      "operations_total",
			Help:      "Completed vault manager operations by name.",
		}, []string{"operation"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "vault",
			Name:      "operation_failures_total",
			Help:      "Failed vault manager operations by name and error code.",
		}, []string{"operation", "code"}),
		LedgerSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "custody",
			Subsystem: "vault",
			Name:      "ledger_call_seconds",
			Help:      "Wall time of external ledger calls including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		VaultsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "vault",
			Name:      "vaults_created_total",
			Help:      "Vaults created since process start.",
		}),
	}
}

// Register attaches all collectors to the registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Operations, m.Failures, m.LedgerSeconds, m.VaultsCreated,
	} {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(errors.ErrConfiguration, err.Error())
		}
	}
	return nil
}

// observe counts one finished operation, successful or not.
func (m *Metrics) observe(operation string, err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.Operations.WithLabelValues(operation).Inc()
		return
	}
	code := strconv.FormatUint(uint64(errors.Code(err)), 10)
	m.Failures.WithLabelValues(operation, code).Inc()
}
