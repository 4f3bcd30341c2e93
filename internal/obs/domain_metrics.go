package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CredentialStoreEntries reports how many credential tokens are held in memory.
	CredentialStoreEntries prometheus.Gauge
	// CredentialValidationTotal counts credential validation outcomes.
	CredentialValidationTotal *prometheus.CounterVec
	// PaymentProcessTotal counts direct card payment outcomes.
	PaymentProcessTotal *prometheus.CounterVec
	// ProcessorCallDuration records processor call latency in milliseconds.
	ProcessorCallDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers payment-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CredentialStoreEntries = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credential_store_entries",
			Help:      "Number of credential tokens currently stored.",
		})
		CredentialValidationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_validation_total",
			Help:      "Count of credential validation outcomes.",
		}, []string{"mode", "result"})
		PaymentProcessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_process_total",
			Help:      "Count of direct card payment outcomes.",
		}, []string{"mode", "result"})
		ProcessorCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processor_call_duration_ms",
			Help:      "Latency of payment processor calls in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		}, []string{"operation", "result"})

		mustRegisterCollector(reg, CredentialStoreEntries, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				CredentialStoreEntries = v
			}
		})
		mustRegisterCollector(reg, CredentialValidationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CredentialValidationTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentProcessTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentProcessTotal = v
			}
		})
		mustRegisterCollector(reg, ProcessorCallDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ProcessorCallDuration = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
