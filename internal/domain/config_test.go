package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.NotNil(t, config)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 8090, config.Server.Port)
	assert.Equal(t, 3, config.Download.ConcurrentLimit)
	assert.Equal(t, 50*time.Millisecond, config.Download.SegmentDelay)
	assert.Zero(t, config.Download.FetchTimeout)
	assert.Zero(t, config.Download.MaxConsecutiveFailures)
	assert.True(t, config.Download.ResumeOnStart)
	assert.True(t, config.Cache.Enabled)
	assert.Equal(t, ".convex.cloud", config.Proxy.CloudSuffix)
	assert.Equal(t, ".convex.site", config.Proxy.EdgeSuffix)
	assert.False(t, config.Notification.Enabled)
	assert.Equal(t, "info", config.Logging.Level)
	assert.True(t, config.Metrics.Enabled)
}
