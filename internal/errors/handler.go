package errors

import "fmt"

// NewHandlerError reports a language handler build failure. transient
// indicates the handler marked the failure as retryable (e.g. a linker
// lock or a temp-file race) per the retry policy in the error handling
// design.
func NewHandlerError(targetID, language string, cause error, transient bool) *BuildError {
	return Wrap(KindHandler, cause, fmt.Sprintf("build failed for language %q", language)).
		WithTarget(targetID).
		WithContext(&Context{
			Operation:   "handler.build",
			Component:   language,
			Recoverable: transient,
		})
}

// NewCASMissError reports a cache entry referencing a blob hash that no
// longer exists in the BlobStore. Always a KindCache error: never fatal.
func NewCASMissError(hash string) *BuildError {
	return New(KindCache, fmt.Sprintf("referenced blob %s missing from store", hash))
}

// NewCorruptCacheError reports a cache file that failed signature
// verification or failed to deserialize. The caller discards and rebuilds
// rather than surfacing this to the user.
func NewCorruptCacheError(path string, cause error) *BuildError {
	return Wrap(KindCache, cause, fmt.Sprintf("cache file %s is corrupt, discarding", path))
}
