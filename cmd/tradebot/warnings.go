package main

import (
	"log"
	"os"
	"strings"

	"github.com/peedubyah/tradebot/internal/config"
)

// logConfigWarnings flags configurations that run but degrade the
// delivery guarantees. None of these stop startup.
func logConfigWarnings(cfg *config.Config) {
	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0 disables the delivery circuit breaker; " +
			"a dead webhook will be hammered on every trigger")
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false; run outcomes and capture failures will not be observable")
	}

	if cfg.RedisAddr == "" {
		log.Println("INFO: REDIS_ADDR not set; per-job delivery counters disabled")
	}

	if strings.HasPrefix(cfg.CaptureDir, os.TempDir()) {
		log.Printf("INFO: CAPTURE_DIR under %s; screenshots are scratch files and may be reaped by the OS", os.TempDir())
	}

	if cfg.ProviderRateLimit > 2 {
		log.Printf("WARNING [P2]: PROVIDER_RATE_LIMIT=%d; aggressive polling risks provider-side throttling",
			cfg.ProviderRateLimit)
	}
}
