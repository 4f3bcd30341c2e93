package obs_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cardpay-gateway/internal/obs"
)

func TestMustRegisterDomainMetricsIsIdempotent(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("cardpay", registry)
	obs.MustRegisterDomainMetrics("cardpay", registry)

	require.NotNil(t, obs.CredentialStoreEntries)
	require.NotNil(t, obs.PaymentProcessTotal)

	obs.PaymentProcessTotal.WithLabelValues("SANDBOX", "completed").Inc()
	require.Equal(t, 1.0, testutil.ToFloat64(obs.PaymentProcessTotal.WithLabelValues("SANDBOX", "completed")))
}

func TestParseBucketsCSV(t *testing.T) {
	require.Nil(t, obs.ParseBucketsCSV(""))
	require.Equal(t, []float64{5, 10.5}, obs.ParseBucketsCSV("5, x, -1, 10.5"))
}
