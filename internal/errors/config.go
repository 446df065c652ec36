package errors

import "fmt"

// NewUnknownTargetError reports a TargetId referenced by the workspace
// config that does not resolve to any declared target.
func NewUnknownTargetError(targetID string) *BuildError {
	return New(KindInput, fmt.Sprintf("unknown target: %s", targetID)).WithTarget(targetID)
}

// NewMalformedPatternError reports a target pattern string that failed to
// parse into a TargetId.
func NewMalformedPatternError(pattern string, cause error) *BuildError {
	return Wrap(KindInput, cause, fmt.Sprintf("malformed target pattern: %q", pattern))
}

// NewMissingDependencyError reports a declared dependency that does not
// resolve to an existing node during graph construction.
func NewMissingDependencyError(fromTarget, missingDep string) *BuildError {
	return New(KindGraph, fmt.Sprintf("target %s depends on unresolved target %s", fromTarget, missingDep)).
		WithTarget(fromTarget)
}

// NewCycleError reports a dependency cycle found during graph
// construction. cyclePath lists every target in the cycle, in order.
func NewCycleError(cyclePath []string) *BuildError {
	msg := "dependency cycle detected: "
	for i, t := range cyclePath {
		if i > 0 {
			msg += " -> "
		}
		msg += t
	}
	return New(KindGraph, msg)
}

// NewMissingEnvVarError reports a required BUILDER_* environment variable
// that was not set.
func NewMissingEnvVarError(varName string) *BuildError {
	return New(KindInput, fmt.Sprintf("required environment variable %q is not set", varName)).
		WithContext(&Context{
			Operation:   "loading configuration",
			Component:   "environment",
			Recoverable: false,
		})
}

// NewConfigFileError reports a workspace configuration file that could not
// be read or parsed.
func NewConfigFileError(filePath string, cause error) *BuildError {
	return Wrap(KindInput, cause, fmt.Sprintf("failed to load configuration file: %s", filePath))
}
