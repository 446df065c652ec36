package blobstore

import (
	"testing"

	"github.com/forgebuild/forge/internal/hashing"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("object file contents")
	h, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if h != hashing.HashBytes(data) {
		t.Errorf("Put() returned hash %v, want %v", h, hashing.HashBytes(data))
	}

	got, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get() = %q, want %q", got, data)
	}
}

func TestGetMissReturnsMissError(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	var ghost hashing.Hash
	ghost[0] = 0xFF
	_, err = s.Get(ghost)
	if err == nil {
		t.Fatal("expected error for missing blob")
	}
	if !IsMiss(err) {
		t.Errorf("IsMiss(%v) = false, want true", err)
	}
}

func TestPutTwiceIncrementsRefCount(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("shared blob")
	h1, _ := s.Put(data)
	h2, _ := s.Put(data)
	if h1 != h2 {
		t.Fatalf("Put() not content-addressed: %v != %v", h1, h2)
	}
	if got := s.RefCount(h1); got != 2 {
		t.Errorf("RefCount() = %d, want 2", got)
	}
}

func TestDecRefThenListUnreferenced(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("orphan candidate")
	h, _ := s.Put(data)
	if err := s.DecRef(h); err != nil {
		t.Fatal(err)
	}

	unreferenced := s.ListUnreferenced()
	found := false
	for _, u := range unreferenced {
		if u == h {
			found = true
		}
	}
	if !found {
		t.Errorf("ListUnreferenced() = %v, want to contain %v", unreferenced, h)
	}
}

func TestDeleteRemovesBlob(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("to be deleted")
	h, _ := s.Put(data)
	if err := s.Delete(h); err != nil {
		t.Fatal(err)
	}
	if s.Has(h) {
		t.Errorf("Has() true after Delete")
	}
	if _, err := s.Get(h); !IsMiss(err) {
		t.Errorf("Get() after Delete: err = %v, want miss", err)
	}
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("persisted blob")
	h, err := s1.Put(data)
	if err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen Open() error = %v", err)
	}
	if !s2.Has(h) {
		t.Errorf("Has() false after reopen, want true")
	}
	got, err := s2.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Errorf("Get() after reopen = %q, want %q", got, data)
	}
}

func TestTotalAndOrphanBytes(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	a := []byte("aaaa")
	b := []byte("bbbbbbbb")
	ha, _ := s.Put(a)
	_, _ = s.Put(b)

	if got := s.TotalBytes(); got != int64(len(a)+len(b)) {
		t.Errorf("TotalBytes() = %d, want %d", got, len(a)+len(b))
	}

	if err := s.DecRef(ha); err != nil {
		t.Fatal(err)
	}
	if got := s.OrphanBytes(); got != int64(len(a)) {
		t.Errorf("OrphanBytes() = %d, want %d", got, len(a))
	}
}
