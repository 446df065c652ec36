package handler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryGetReturnsRegisteredHandler(t *testing.T) {
	r := NewRegistry()
	goHandler := NewGoHandler()
	r.Register(goHandler)

	got, err := r.Get(LanguageGo)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != goHandler {
		t.Error("Get() did not return the registered instance")
	}
}

func TestRegistryGetUnknownLanguageErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(NewGoHandler())

	_, err := r.Get(LanguageRust)
	if err == nil {
		t.Fatal("expected error for unregistered language")
	}
}

func TestGoHandlerAnalyzeImports(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	src := "package main\n\nimport (\n\t\"fmt\"\n\t\"os\"\n)\n\nfunc main() { fmt.Println(os.Args) }\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	h := NewGoHandler()
	imports, err := h.AnalyzeImports(context.Background(), path)
	if err != nil {
		t.Fatalf("AnalyzeImports() error = %v", err)
	}
	if len(imports) != 2 {
		t.Fatalf("len(imports) = %d, want 2: %v", len(imports), imports)
	}
	wantSet := map[string]bool{"fmt": true, "os": true}
	for _, imp := range imports {
		if !wantSet[imp] {
			t.Errorf("unexpected import %q", imp)
		}
	}
}

func TestPythonHandlerAnalyzeImports(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.py")
	src := "import os\nfrom collections import OrderedDict\nimport sys as _sys\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	h := NewPythonHandler()
	imports, err := h.AnalyzeImports(context.Background(), path)
	if err != nil {
		t.Fatalf("AnalyzeImports() error = %v", err)
	}

	wantSet := map[string]bool{"os": true, "collections": true, "sys": true}
	if len(imports) != len(wantSet) {
		t.Fatalf("len(imports) = %d, want %d: %v", len(imports), len(wantSet), imports)
	}
	for _, imp := range imports {
		if !wantSet[imp] {
			t.Errorf("unexpected import %q", imp)
		}
	}
}

func TestRegistryLanguagesListsAll(t *testing.T) {
	r := NewRegistry()
	r.Register(NewGoHandler())
	r.Register(NewPythonHandler())

	langs := r.Languages()
	if len(langs) != 2 {
		t.Fatalf("len(Languages()) = %d, want 2", len(langs))
	}
}
