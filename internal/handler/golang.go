package handler

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os/exec"
	"path/filepath"

	"github.com/forgebuild/forge/internal/graph"
)

// GoHandler builds targets whose Language is "go" by shelling out to the
// host Go toolchain, and resolves imports via go/parser + go/ast rather
// than text scanning so comments and string literals never produce false
// dependency edges.
type GoHandler struct {
	// GoToolPath is the path to the go binary; empty means the PATH
	// lookup "go" is used.
	GoToolPath string
}

// NewGoHandler returns a GoHandler using "go" from PATH.
func NewGoHandler() *GoHandler {
	return &GoHandler{GoToolPath: "go"}
}

func (h *GoHandler) Language() Language { return LanguageGo }

// AnalyzeImports parses a single Go source file and returns its imported
// package paths, ignoring stdlib-looking paths is left to the caller
// (depanalyzer filters against the workspace's module graph).
func (h *GoHandler) AnalyzeImports(ctx context.Context, sourcePath string) ([]string, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, sourcePath, nil, parser.ImportsOnly)
	if err != nil {
		return nil, fmt.Errorf("golang handler: parse %s: %w", sourcePath, err)
	}

	imports := make([]string, 0, len(file.Imports))
	for _, imp := range file.Imports {
		path, err := importPathValue(imp)
		if err != nil {
			continue
		}
		imports = append(imports, path)
	}
	return imports, nil
}

func importPathValue(imp *ast.ImportSpec) (string, error) {
	if imp.Path == nil {
		return "", fmt.Errorf("nil import path")
	}
	// imp.Path.Value is a quoted Go string literal, e.g. `"fmt"`.
	unquoted := imp.Path.Value
	if len(unquoted) >= 2 {
		unquoted = unquoted[1 : len(unquoted)-1]
	}
	return unquoted, nil
}

// Build compiles the target with `go build`, writing the binary to a
// path under bctx.ScratchDir.
func (h *GoHandler) Build(bctx BuildContext) (BuildResult, error) {
	outputPath := filepath.Join(bctx.ScratchDir, bctx.Target.ID.Name)

	args := []string{"build", "-o", outputPath}
	args = append(args, bctx.Target.Sources...)

	cmd := exec.CommandContext(bctx.Ctx, h.goTool(), args...)
	cmd.Dir = bctx.WorkspaceRoot

	if out, err := cmd.CombinedOutput(); err != nil {
		return BuildResult{}, fmt.Errorf("golang handler: build %s failed: %w\n%s", bctx.Target.ID, err, out)
	}

	return BuildResult{OutputPaths: []string{outputPath}}, nil
}

func (h *GoHandler) goTool() string {
	if h.GoToolPath == "" {
		return "go"
	}
	return h.GoToolPath
}

// GetOutputs reports the expected single binary output path for a Go
// executable target; library targets produce no standalone artifact.
func (h *GoHandler) GetOutputs(t graph.Target) []string {
	if t.Kind != graph.KindExecutable {
		return nil
	}
	if t.OutputPath != "" {
		return []string{t.OutputPath}
	}
	return []string{t.ID.Name}
}
