// Package configs provides test configuration loading for e2e tests.
package configs

import (
	"testing"

	"github.com/tarsy-io/tarsy/pkg/config"
)

// builders maps config names to their programmatic builders. Each call
// produces a fresh *config.Config — NewTestApp mutates cfg.Queue, so configs
// must never be shared between test apps.
var builders = map[string]func() *config.Config{
	"single-stage":        SingleStageConfig,
	"full-flow":           FullFlowConfig,
	"two-stage-fail-fast": TwoStageFailFastConfig,
	"parallel-any":        func() *config.Config { return ParallelConfig(config.SuccessPolicyAny) },
	"parallel-all":        func() *config.Config { return ParallelConfig(config.SuccessPolicyAll) },
	"replica":             func() *config.Config { return ReplicaConfig(3) },
	"forced-conclusion":   ForcedConclusionConfig,
	"pipeline":            PipelineConfig,
	"react-streaming":     ReactStreamingConfig,
	"timeout":             TimeoutConfig,
	"cancellation":        CancellationConfig,
	"concurrency":         func() *config.Config { return ConcurrencyConfig("test-concurrency") },
	"multi-replica":       func() *config.Config { return ConcurrencyConfig("test-multi-replica") },
	"failure-propagation": FailurePropagationConfig,
	"pause-resume":        PauseResumeConfig,
	"failure-resilience":  FailureResilienceConfig,
}

// Load returns a fresh copy of the named test configuration.
func Load(t *testing.T, name string) *config.Config {
	t.Helper()
	build, ok := builders[name]
	if !ok {
		t.Fatalf("unknown test config %q", name)
	}
	return build()
}
