// Package cachecore implements the binary entry format and eviction
// machinery shared by TargetCache and ActionCache: a versioned,
// length-prefixed little-endian record format (grounded on the teacher's
// JSON AnalysisCache persistence in internal/cache/cache.go, but
// generalized to a compact binary wire format since cache entries here
// carry raw blob references rather than just file metadata), BLAKE3-keyed
// signing so a corrupted or tampered entry is detected and discarded
// rather than trusted, and a byte-budget eviction policy that removes the
// least recently accessed entries first, backed by a
// github.com/google/btree ordered index over last-access time. The
// policy has no entry-count or maximum-age limit.
package cachecore

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/forgebuild/forge/internal/hashing"
)

// Magic identifies a cachecore entry blob so a coordinator reading raw
// bytes off disk (or from a remote cache) can sanity-check the format
// before attempting to decode it.
const Magic uint32 = 0x42435448 // "BCTH" little-endian

// FormatVersion is bumped whenever the tagged-field layout changes.
const FormatVersion uint16 = 1

// Tag identifies a field within an encoded entry. New tags must only be
// appended; never renumber an existing tag, since persisted entries from
// a prior run may still reference it.
type Tag uint8

const (
	TagKey Tag = iota + 1
	TagBlobHash
	TagCreatedUnixNano
	TagLastAccessUnixNano
	TagSizeBytes
	TagMetadata
)

// Entry is the decoded, in-memory form of one cache record.
type Entry struct {
	Key            string
	BlobHash       hashing.Hash
	CreatedUnix    int64
	LastAccessUnix int64
	SizeBytes      int64
	Metadata       map[string]string
}

// Encode serializes an Entry to the tagged binary format, then signs the
// result with a BLAKE3 keyed hash so Decode can detect corruption.
func Encode(e Entry, signKey [hashing.Size]byte) []byte {
	var body bytes.Buffer

	writeUint32(&body, Magic)
	writeUint16(&body, FormatVersion)

	writeField(&body, TagKey, []byte(e.Key))
	writeField(&body, TagBlobHash, e.BlobHash[:])
	writeInt64Field(&body, TagCreatedUnixNano, e.CreatedUnix)
	writeInt64Field(&body, TagLastAccessUnixNano, e.LastAccessUnix)
	writeInt64Field(&body, TagSizeBytes, e.SizeBytes)
	writeField(&body, TagMetadata, encodeMetadata(e.Metadata))

	sig := hashing.Keyed(signKey, body.Bytes())

	out := make([]byte, 0, body.Len()+hashing.Size)
	out = append(out, body.Bytes()...)
	out = append(out, sig[:]...)
	return out
}

// Decode parses and verifies an entry encoded by Encode. It returns an
// error if the signature does not match (signKey differs, or the bytes
// are corrupt/truncated), so the caller can treat it as a cache miss
// rather than trusting bad data.
func Decode(data []byte, signKey [hashing.Size]byte) (Entry, error) {
	if len(data) < hashing.Size {
		return Entry{}, fmt.Errorf("cachecore: entry too short to contain signature (%d bytes)", len(data))
	}
	body := data[:len(data)-hashing.Size]
	sig := data[len(data)-hashing.Size:]

	want := hashing.Keyed(signKey, body)
	if !bytes.Equal(want[:], sig) {
		return Entry{}, fmt.Errorf("cachecore: signature mismatch, entry corrupt or tampered")
	}

	r := bytes.NewReader(body)
	magic, err := readUint32(r)
	if err != nil || magic != Magic {
		return Entry{}, fmt.Errorf("cachecore: bad magic %x", magic)
	}
	version, err := readUint16(r)
	if err != nil {
		return Entry{}, fmt.Errorf("cachecore: missing version: %w", err)
	}
	if version != FormatVersion {
		return Entry{}, fmt.Errorf("cachecore: unsupported format version %d", version)
	}

	var e Entry
	for r.Len() > 0 {
		tag, field, err := readField(r)
		if err != nil {
			return Entry{}, fmt.Errorf("cachecore: malformed field: %w", err)
		}
		switch Tag(tag) {
		case TagKey:
			e.Key = string(field)
		case TagBlobHash:
			if len(field) != hashing.Size {
				return Entry{}, fmt.Errorf("cachecore: bad blob hash length %d", len(field))
			}
			copy(e.BlobHash[:], field)
		case TagCreatedUnixNano:
			e.CreatedUnix = decodeInt64(field)
		case TagLastAccessUnixNano:
			e.LastAccessUnix = decodeInt64(field)
		case TagSizeBytes:
			e.SizeBytes = decodeInt64(field)
		case TagMetadata:
			e.Metadata = decodeMetadata(field)
		}
	}
	return e, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func writeField(buf *bytes.Buffer, tag Tag, value []byte) {
	buf.WriteByte(byte(tag))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(value)))
	buf.Write(lenBuf[:])
	buf.Write(value)
}

func writeInt64Field(buf *bytes.Buffer, tag Tag, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	writeField(buf, tag, b[:])
}

func decodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func readField(r *bytes.Reader) (tag byte, value []byte, err error) {
	tag, err = r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	var lenBuf [4]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	value = make([]byte, n)
	if n > 0 {
		if _, err := r.Read(value); err != nil {
			return 0, nil, err
		}
	}
	return tag, value, nil
}

// encodeMetadata packs a string map as a sequence of
// length-prefixed key/value pairs, count-prefixed.
func encodeMetadata(m map[string]string) []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(m)))
	buf.Write(countBuf[:])
	for k, v := range m {
		writeLengthPrefixedString(&buf, k)
		writeLengthPrefixedString(&buf, v)
	}
	return buf.Bytes()
}

func decodeMetadata(data []byte) map[string]string {
	if len(data) < 4 {
		return nil
	}
	r := bytes.NewReader(data)
	var countBuf [4]byte
	if _, err := r.Read(countBuf[:]); err != nil {
		return nil
	}
	count := binary.LittleEndian.Uint32(countBuf[:])
	m := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		k, err := readLengthPrefixedString(r)
		if err != nil {
			return m
		}
		v, err := readLengthPrefixedString(r)
		if err != nil {
			return m
		}
		m[k] = v
	}
	return m
}

func writeLengthPrefixedString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readLengthPrefixedString(r *bytes.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	strBuf := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(strBuf); err != nil {
			return "", err
		}
	}
	return string(strBuf), nil
}
