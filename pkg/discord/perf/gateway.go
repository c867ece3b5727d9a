// Package perf flags gateway handlers that run longer than a threshold.
package perf

import (
	"strings"
	"sync"
	"time"

	"github.com/small-frappuccino/teamlists/pkg/log"
	"github.com/small-frappuccino/teamlists/pkg/util"
)

const (
	envGatewayPerfThresholdMs     = "TEAMLISTS_GATEWAY_PERF_THRESHOLD_MS"
	defaultGatewayPerfThresholdMs = int64(200)
)

var (
	gatewayThresholdOnce sync.Once
	gatewayThreshold     time.Duration
)

func gatewayPerfThreshold() time.Duration {
	gatewayThresholdOnce.Do(func() {
		ms := util.EnvInt64(envGatewayPerfThresholdMs, defaultGatewayPerfThresholdMs)
		if ms <= 0 {
			gatewayThreshold = 0
			return
		}
		gatewayThreshold = time.Duration(ms) * time.Millisecond
	})
	return gatewayThreshold
}

// StartGatewayEvent times a gateway handler; call the returned func when it returns.
// Only slow handlers are logged. Set TEAMLISTS_GATEWAY_PERF_THRESHOLD_MS to 0 to disable.
func StartGatewayEvent(event string, kv ...any) func() {
	return startWithThreshold(event, gatewayPerfThreshold(), kv...)
}

func startWithThreshold(event string, threshold time.Duration, kv ...any) func() {
	if threshold <= 0 {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		if duration < threshold {
			return
		}
		name := strings.TrimSpace(event)
		if name == "" {
			name = "unknown"
		}
		args := make([]any, 0, len(kv)+4)
		args = append(args, "event", name, "duration_ms", duration.Milliseconds())
		args = append(args, kv...)
		log.DiscordLogger().Warn("Slow gateway event handler", args...)
	}
}
