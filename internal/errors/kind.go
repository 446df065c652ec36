// Package errors implements the build system's error taxonomy: every
// fallible core operation returns a *BuildError carrying a Kind, an exit
// code, and an optional originating TargetId, instead of relying on
// sentinel errors or panics.
package errors

// Kind classifies a BuildError per the taxonomy in the error handling
// design. The Scheduler and CacheCoordinator branch on Kind to decide
// whether an error is fatal, retryable, or silently degraded.
type Kind int

const (
	// KindInput covers malformed configuration, unknown TargetId, or a
	// malformed target pattern. Fatal for the build invocation.
	KindInput Kind = iota
	// KindGraph covers cycle detection and missing-dependency errors.
	// Fatal.
	KindGraph
	// KindIO covers unreadable files, missing paths, failed writes.
	// Retryable and not fatal, for local and remote paths alike: the
	// Kind does not tell them apart.
	KindIO
	// KindCache covers corrupted cache files, signature mismatches, and
	// CAS misses. Never fatal: the cache is discarded and rebuilt.
	KindCache
	// KindNetwork covers timeouts, connection refused, DNS failures, and
	// HTTP 5xx. Retryable with backoff and circuit breaker.
	KindNetwork
	// KindHandler covers compilation failures reported by a language
	// handler. Retried per policy only if the handler marks the error
	// transient.
	KindHandler
	// KindSystem covers out-of-memory and subprocess spawn failures.
	// Retryable and not fatal; retried up to the retry policy's limit
	// like the other retryable kinds.
	KindSystem
	// KindCancelled covers cooperative cancellation. Not retried, not
	// counted as a failure.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "Input"
	case KindGraph:
		return "Graph"
	case KindIO:
		return "IO"
	case KindCache:
		return "Cache"
	case KindNetwork:
		return "Network"
	case KindHandler:
		return "Handler"
	case KindSystem:
		return "System"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Fatal reports whether an error of this kind should abort the whole build
// invocation rather than just the node it originated from.
func (k Kind) Fatal() bool {
	switch k {
	case KindInput, KindGraph:
		return true
	default:
		return false
	}
}

// Retryable reports whether the scheduler's retry policy applies to this
// kind at all. Individual errors of a retryable kind can still decline a
// retry (e.g. a handler marking its failure non-transient).
func (k Kind) Retryable() bool {
	switch k {
	case KindIO, KindNetwork, KindHandler, KindSystem:
		return true
	default:
		return false
	}
}

// ExitCode is the process exit code surfaced by the CLI layer, per the
// exit code table in the external interfaces section.
type ExitCode int

const (
	ExitSuccess      ExitCode = 0
	ExitBuildFailure ExitCode = 1
	ExitConfigError  ExitCode = 2
	ExitCancelled    ExitCode = 130
)

func (e ExitCode) Int() int {
	return int(e)
}

// ExitCodeFor maps an error Kind to the process exit code a CLI-level
// caller should use when this error is the terminal failure of a build.
func ExitCodeFor(k Kind) ExitCode {
	switch k {
	case KindCancelled:
		return ExitCancelled
	case KindInput:
		return ExitConfigError
	default:
		return ExitBuildFailure
	}
}
