// Package hashing provides BLAKE3 content and metadata hashing with a
// runtime CPU-feature probe selecting the fastest available SIMD tier,
// mirroring the selective-hashing shape of the teacher's internal/cache
// package but built on a real BLAKE3 implementation instead of SHA-256.
package hashing

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"lukechampine.com/blake3"
)

// Size is the length in bytes of a Hash value.
const Size = 32

// Hash is a 32-byte BLAKE3 digest.
type Hash [Size]byte

// String returns the full 64-character hex form.
func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// Short returns an 8-hex-character display form. Never used as a cache or
// lookup key — only for logs and CLI output.
func (h Hash) Short() string {
	return fmt.Sprintf("%x", h[:4])
}

// IsZero reports whether h is the zero hash (e.g. an unset FileState).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Tier names the SIMD dispatch tier blake3's underlying implementation is
// expected to exploit on this CPU. lukechampine.com/blake3 dispatches
// internally; Tier is surfaced for display/BuildContext.SimdTier
// and is informational only.
type Tier string

const (
	TierAVX512   Tier = "avx512"
	TierAVX2     Tier = "avx2"
	TierSSE41    Tier = "sse4.1"
	TierNEON     Tier = "neon"
	TierPortable Tier = "portable"
)

var activeTier = probeTier()

func probeTier() Tier {
	switch runtime.GOARCH {
	case "arm64":
		if cpuid.CPU.Supports(cpuid.ASIMD) {
			return TierNEON
		}
		return TierPortable
	case "amd64", "386":
		switch {
		case cpuid.CPU.Supports(cpuid.AVX512F):
			return TierAVX512
		case cpuid.CPU.Supports(cpuid.AVX2):
			return TierAVX2
		case cpuid.CPU.Supports(cpuid.SSE4):
			return TierSSE41
		default:
			return TierPortable
		}
	default:
		return TierPortable
	}
}

// ActiveTier returns the SIMD tier chosen once at process start.
func ActiveTier() Tier {
	return activeTier
}

// HashBytes computes the BLAKE3 hash of an in-memory byte slice.
func HashBytes(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// HashFile streams a file's contents through BLAKE3 without loading the
// whole file into memory, for content hashing of arbitrarily large build
// outputs.
func HashFile(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("hashing: open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New(Size, nil)
	if _, err := io.Copy(h, f); err != nil {
		return Hash{}, fmt.Errorf("hashing: read %s: %w", path, err)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// HashMetadata computes a cheap proxy hash from file stat data (size,
// mtime, mode) without reading file contents, per the two-tier change
// detection algorithm.
func HashMetadata(path string) (Hash, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Hash{}, fmt.Errorf("hashing: stat %s: %w", path, err)
	}
	return HashMetadataInfo(info), nil
}

// HashMetadataInfo derives the metadata proxy hash from an already-fetched
// os.FileInfo, avoiding a second stat call when the caller obtained one
// during directory traversal.
func HashMetadataInfo(info os.FileInfo) Hash {
	buf := make([]byte, 0, 32)
	buf = appendInt64(buf, info.Size())
	buf = appendInt64(buf, info.ModTime().UnixNano())
	buf = appendInt64(buf, int64(info.Mode()))
	return HashBytes(buf)
}

func appendInt64(buf []byte, v int64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// HashMany hashes a batch of byte slices in parallel across a worker pool
// sized by GOMAXPROCS, matching the teacher's parallel-hashing shape in
// internal/cache.ScanFiles but generalized to arbitrary byte payloads
// instead of files on disk.
func HashMany(items [][]byte) []Hash {
	out := make([]Hash, len(items))
	if len(items) == 0 {
		return out
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan int, len(items))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				out[idx] = HashBytes(items[idx])
			}
		}()
	}
	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// Keyed computes a BLAKE3 keyed hash (a native MAC, per BLAKE3's design)
// over data using a 32-byte workspace key. This backs the "BLAKE3-HMAC"
// signing described for TargetCache/ActionCache entries: BLAKE3's keyed
// mode is itself a MAC construction, so no separate HMAC wrapper is
// needed.
func Keyed(key [Size]byte, data []byte) Hash {
	h := blake3.New(Size, key[:])
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
