package hashing

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHashBytesDeterministic(t *testing.T) {
	a := HashBytes([]byte("hello forge"))
	b := HashBytes([]byte("hello forge"))
	if a != b {
		t.Fatalf("HashBytes not deterministic: %v != %v", a, b)
	}
	c := HashBytes([]byte("hello Forge"))
	if a == c {
		t.Fatalf("HashBytes collided on different input")
	}
}

func TestHashFileMatchesHashBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.go")
	content := []byte("package main\n\nfunc main() {}\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	want := HashBytes(content)
	got, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("HashFile() = %s, want %s", got, want)
	}
}

func TestHashMetadataChangesWithMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := HashMetadata(path)
	if err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	future := info.ModTime().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	h2, err := HashMetadata(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Errorf("HashMetadata did not change after mtime bump")
	}
}

func TestHashManyMatchesSequential(t *testing.T) {
	items := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc"), []byte("dddd")}
	got := HashMany(items)
	for i, item := range items {
		if want := HashBytes(item); got[i] != want {
			t.Errorf("HashMany[%d] = %s, want %s", i, got[i], want)
		}
	}
}

func TestKeyedDiffersByKey(t *testing.T) {
	var k1, k2 [Size]byte
	k2[0] = 1

	data := []byte("cache entry payload")
	if Keyed(k1, data) == Keyed(k2, data) {
		t.Errorf("Keyed hash identical across different keys")
	}
	if Keyed(k1, data) != Keyed(k1, data) {
		t.Errorf("Keyed hash not deterministic for same key")
	}
}
