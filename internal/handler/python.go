package handler

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"

	"github.com/forgebuild/forge/internal/graph"
)

// importLinePattern matches "import x", "import x.y", and
// "from x import y" at the start of a line (after optional whitespace).
// Python has no static import graph the way Go does, so unlike
// GoHandler this is a textual approximation rather than a full parse:
// dynamic `importlib.import_module(...)` calls are invisible to it.
var importLinePattern = regexp.MustCompile(`^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`)

// PythonHandler builds targets whose Language is "python" by invoking a
// configured interpreter to run a packaging step (left to the
// interpreter's own build backend), and resolves imports via a regex
// line scan illustrating the "second scanner" mentioned in
// SPEC_FULL.md's depanalyzer section for languages without a
// first-class AST package in the standard library.
type PythonHandler struct {
	InterpreterPath string
}

// NewPythonHandler returns a PythonHandler using "python3" from PATH.
func NewPythonHandler() *PythonHandler {
	return &PythonHandler{InterpreterPath: "python3"}
}

func (h *PythonHandler) Language() Language { return LanguagePython }

// AnalyzeImports scans sourcePath line by line for import statements.
func (h *PythonHandler) AnalyzeImports(ctx context.Context, sourcePath string) ([]string, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("python handler: open %s: %w", sourcePath, err)
	}
	defer f.Close()

	var imports []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		match := importLinePattern.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}
		module := match[1]
		if module == "" {
			module = match[2]
		}
		if _, dup := seen[module]; dup {
			continue
		}
		seen[module] = struct{}{}
		imports = append(imports, module)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("python handler: scan %s: %w", sourcePath, err)
	}
	return imports, nil
}

// Build packages the target by invoking the interpreter's py_compile
// module against the declared sources, writing each source's .pyc next
// to it in the workspace (src + "c", the paths GetOutputs reports); this
// stands in for a real build backend (setuptools/poetry) integration,
// out of scope for the core.
func (h *PythonHandler) Build(bctx BuildContext) (BuildResult, error) {
	args := []string{"-c", "import py_compile, sys; [py_compile.compile(s, cfile=s + 'c', doraise=True) for s in sys.argv[1:]]"}
	args = append(args, bctx.Target.Sources...)

	cmd := exec.CommandContext(bctx.Ctx, h.interpreter(), args...)
	cmd.Dir = bctx.WorkspaceRoot

	if out, err := cmd.CombinedOutput(); err != nil {
		return BuildResult{}, fmt.Errorf("python handler: compile %s failed: %w\n%s", bctx.Target.ID, err, out)
	}

	outputs := make([]string, 0, len(bctx.Target.Sources))
	for _, src := range bctx.Target.Sources {
		outputs = append(outputs, filepath.Join(bctx.WorkspaceRoot, src+"c"))
	}
	return BuildResult{OutputPaths: outputs}, nil
}

func (h *PythonHandler) interpreter() string {
	if h.InterpreterPath == "" {
		return "python3"
	}
	return h.InterpreterPath
}

// GetOutputs reports the expected compiled-bytecode output paths.
func (h *PythonHandler) GetOutputs(t graph.Target) []string {
	outputs := make([]string, 0, len(t.Sources))
	for _, src := range t.Sources {
		outputs = append(outputs, src+"c")
	}
	return outputs
}
