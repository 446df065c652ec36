package cachecore

import (
	"testing"

	"github.com/forgebuild/forge/internal/hashing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var key [hashing.Size]byte
	key[0] = 7

	e := Entry{
		Key:            "ws//pkg:target",
		BlobHash:       hashing.HashBytes([]byte("payload")),
		CreatedUnix:    100,
		LastAccessUnix: 200,
		SizeBytes:      4096,
		Metadata:       map[string]string{"language": "go"},
	}

	encoded := Encode(e, key)
	decoded, err := Decode(encoded, key)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded.Key != e.Key {
		t.Errorf("Key = %q, want %q", decoded.Key, e.Key)
	}
	if decoded.BlobHash != e.BlobHash {
		t.Errorf("BlobHash = %v, want %v", decoded.BlobHash, e.BlobHash)
	}
	if decoded.CreatedUnix != e.CreatedUnix || decoded.LastAccessUnix != e.LastAccessUnix {
		t.Errorf("timestamps mismatch: got %+v, want %+v", decoded, e)
	}
	if decoded.SizeBytes != e.SizeBytes {
		t.Errorf("SizeBytes = %d, want %d", decoded.SizeBytes, e.SizeBytes)
	}
	if decoded.Metadata["language"] != "go" {
		t.Errorf("Metadata[language] = %q, want go", decoded.Metadata["language"])
	}
}

func TestDecodeRejectsWrongKey(t *testing.T) {
	var key1, key2 [hashing.Size]byte
	key2[0] = 1

	encoded := Encode(Entry{Key: "x"}, key1)
	if _, err := Decode(encoded, key2); err == nil {
		t.Fatal("expected signature mismatch error with wrong key")
	}
}

func TestDecodeRejectsTamperedBytes(t *testing.T) {
	var key [hashing.Size]byte
	encoded := Encode(Entry{Key: "x", SizeBytes: 10}, key)
	encoded[10] ^= 0xFF

	if _, err := Decode(encoded, key); err == nil {
		t.Fatal("expected error decoding tampered entry")
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	var key [hashing.Size]byte
	if _, err := Decode([]byte{1, 2, 3}, key); err == nil {
		t.Fatal("expected error decoding truncated entry")
	}
}
