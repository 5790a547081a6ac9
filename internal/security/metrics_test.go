package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	labels, err := ParseMetricsLabels("service=chat-service,env=dev")
	require.NoError(t, err)
	assert.Equal(t, "chat-service", labels["service"])
	assert.Equal(t, "dev", labels["env"])
}

func TestParseMetricsLabels_Empty(t *testing.T) {
	labels, err := ParseMetricsLabels("")
	require.NoError(t, err)
	assert.Nil(t, labels)
}

func TestParseMetricsLabels_EnvExpansion(t *testing.T) {
	t.Setenv("POD_NAME", "chat-0")
	labels, err := ParseMetricsLabels("pod=${POD_NAME}")
	require.NoError(t, err)
	assert.Equal(t, "chat-0", labels["pod"])
}

func TestParseMetricsLabels_Invalid(t *testing.T) {
	_, err := ParseMetricsLabels("no-equals-sign")
	require.Error(t, err)

	_, err = ParseMetricsLabels("9bad=value")
	require.Error(t, err)
}
