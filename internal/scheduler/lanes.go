package scheduler

// Lane names used across the gateway. Each lane gets its own worker pool so a
// burst of cron jobs can never starve interactive chat traffic, and vice versa.
const (
	LaneMain     = "main"
	LaneCron     = "cron"
	LaneSubagent = "subagent"
	LaneDelegate = "delegate"
)

// LaneConfig sizes one lane's worker pool and queue.
type LaneConfig struct {
	Name      string
	Workers   int
	QueueSize int
}

// DefaultLanes returns the lane layout the gateway runs with out of the box:
// generous capacity for interactive chat, small dedicated pools for the
// background lanes so they can't monopolize agent runs.
func DefaultLanes() []LaneConfig {
	return []LaneConfig{
		{Name: LaneMain, Workers: 8, QueueSize: 64},
		{Name: LaneCron, Workers: 2, QueueSize: 32},
		{Name: LaneSubagent, Workers: 4, QueueSize: 32},
		{Name: LaneDelegate, Workers: 4, QueueSize: 32},
	}
}

// QueueConfig controls per-session concurrency and the adaptive throttle.
type QueueConfig struct {
	// DefaultMaxConcurrentPerSession caps concurrent runs for a session key
	// when ScheduleOpts doesn't override it.
	DefaultMaxConcurrentPerSession int

	// ThrottleThreshold is the fraction of a session's context window (as
	// reported by the TokenEstimateFunc) at or above which concurrency is
	// clamped to 1, regardless of the requested limit. Prevents concurrent
	// runs from racing a compaction that's about to trigger.
	ThrottleThreshold float64
}

// DefaultQueueConfig returns conservative defaults: one run per session at a
// time, throttled hard once a session is 85% of the way to its context window.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		DefaultMaxConcurrentPerSession: 1,
		ThrottleThreshold:              0.85,
	}
}

// ScheduleOpts overrides per-request scheduling behavior.
type ScheduleOpts struct {
	// MaxConcurrent overrides QueueConfig.DefaultMaxConcurrentPerSession for
	// this session key. Group chats use this to allow several users to run
	// concurrently against the same agent.
	MaxConcurrent int
}
