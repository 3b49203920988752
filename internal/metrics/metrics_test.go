package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistered(t *testing.T) {
	t.Parallel()

	// Verify all metrics are non-nil (registered via promauto on package init).
	assert.NotNil(t, HTTPRequestDuration)
	assert.NotNil(t, HTTPRequestsTotal)
	assert.NotNil(t, APIRequestsTotal)
	assert.NotNil(t, APIRequestDuration)
	assert.NotNil(t, AuthRetriesTotal)
	assert.NotNil(t, BackendUp)
	assert.NotNil(t, TokenRefreshesTotal)
	assert.NotNil(t, SessionChangesTotal)
	assert.NotNil(t, UploadsTotal)
	assert.NotNil(t, UploadBytes)
}

func TestBackendUp_Set(t *testing.T) {
	t.Parallel()

	BackendUp.Set(1)
	assert.InDelta(t, 1.0, testutil.ToFloat64(BackendUp), 0.001)
}
