package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionMetrics(t *testing.T) {
	ConnectionsTotal.Reset()
	ConnectionsCurrent.Reset()
	AuthenticatedConnectionsCurrent.Reset()
	AuthenticationAttempts.Reset()

	ConnectionsTotal.WithLabelValues("pop3").Inc()
	ConnectionsTotal.WithLabelValues("pop3").Inc()
	ConnectionsTotal.WithLabelValues("pop3s").Inc()
	ConnectionsCurrent.WithLabelValues("pop3").Set(5)
	AuthenticatedConnectionsCurrent.WithLabelValues("pop3").Inc()
	AuthenticationAttempts.WithLabelValues("pop3", "pass", "success").Inc()
	AuthenticationAttempts.WithLabelValues("pop3", "apop", "failure").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(ConnectionsTotal.WithLabelValues("pop3")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ConnectionsTotal.WithLabelValues("pop3s")))
	assert.Equal(t, float64(5), testutil.ToFloat64(ConnectionsCurrent.WithLabelValues("pop3")))
	assert.Equal(t, float64(1), testutil.ToFloat64(AuthenticatedConnectionsCurrent.WithLabelValues("pop3")))
	assert.Equal(t, 2, testutil.CollectAndCount(AuthenticationAttempts))
}

func TestCommandMetrics(t *testing.T) {
	CommandsTotal.Reset()
	InvalidCommands.Reset()

	CommandsTotal.WithLabelValues("pop3", "RETR", "ok").Inc()
	CommandsTotal.WithLabelValues("pop3", "RETR", "err").Inc()
	CommandsTotal.WithLabelValues("pop3", "DELE", "ok").Inc()
	InvalidCommands.WithLabelValues("pop3").Add(3)

	expected := `
		# HELP pop3d_invalid_commands_total Unparseable command lines received
		# TYPE pop3d_invalid_commands_total counter
		pop3d_invalid_commands_total{server="pop3"} 3
	`
	err := testutil.CollectAndCompare(InvalidCommands, strings.NewReader(expected), "pop3d_invalid_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 3, testutil.CollectAndCount(CommandsTotal))
}

func TestCommandDurationHistogram(t *testing.T) {
	CommandDuration.Reset()

	observer := CommandDuration.WithLabelValues("pop3", "RETR")
	observer.Observe(0.002)
	observer.Observe(0.2)

	var m dto.Metric
	require.NoError(t, observer.(prometheus.Histogram).Write(&m))
	assert.Equal(t, uint64(2), m.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.202, m.GetHistogram().GetSampleSum(), 1e-9)
}

func TestStorageGauges(t *testing.T) {
	StoredMessagesTotal.Set(12)

	var m dto.Metric
	require.NoError(t, StoredMessagesTotal.Write(&m))
	assert.Equal(t, float64(12), m.GetGauge().GetValue())
}
