package config

import "time"

// QueueConfig tunes the claim-based work queue: how many workers a pod
// runs, the global concurrency ceiling, and the poll/heartbeat/orphan
// timings that make multi-pod claiming safe.
type QueueConfig struct {
	// WorkerCount is how many claim loops this pod runs. Each worker
	// polls, claims and drives one session at a time.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentSessions caps in-flight sessions across ALL pods,
	// enforced by a COUNT check against the store before each claim. This
	// is the system's backpressure: the queue grows, pods never
	// oversubscribe.
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`

	// PollInterval is the claim loop's base sleep between queue checks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter randomizes each sleep (PollInterval ± jitter) so
	// a fleet of pods doesn't hammer the queue in lockstep.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// SessionTimeout is the deadline one session execution gets.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// GracefulShutdownTimeout bounds how long Stop waits for in-flight
	// sessions; keep it at least SessionTimeout or shutdown will abandon
	// running work to the orphan sweep.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is the cadence of the orphan sweep.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is the heartbeat age past which an in-progress
	// session is presumed abandoned by a dead pod and re-queued.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// HeartbeatInterval is how often a working session refreshes its
	// liveness marker. Must be comfortably below OrphanThreshold.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentSessions:   5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		SessionTimeout:          15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
	}
}
