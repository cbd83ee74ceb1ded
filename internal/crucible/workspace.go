package crucible

import "path/filepath"

// Workspace is the fixed directory layout of one build invocation. It is
// constructed once at startup and passed by value to every component; no
// path is ever derived from mutable global state.
type Workspace struct {
	Root string // directory holding out/ (usually the checkout's build dir)

	LLVMProjectDir      string // the llvm-project source tree, sibling of Root
	BootstrapBuildDir   string
	BootstrapInstallDir string
	FinalBuildDir       string
	FinalInstallDir     string
	ToolsDir            string // unpacked/built third-party tool trees
	ToolsCacheDir       string // fetched archives, keyed by name and version
	LibcxxBuildDir      string
	LibcxxInstallDir    string
}

// NewWorkspace derives the full layout from the build root.
func NewWorkspace(root string) Workspace {
	root = filepath.Clean(root)
	out := filepath.Join(root, "out")
	return Workspace{
		Root:                root,
		LLVMProjectDir:      filepath.Join(root, "..", "llvm-project"),
		BootstrapBuildDir:   filepath.Join(out, "llvm-bootstrap"),
		BootstrapInstallDir: filepath.Join(out, "llvm-bootstrap-install"),
		FinalBuildDir:       filepath.Join(out, "llvm-build"),
		FinalInstallDir:     filepath.Join(out, "llvm-install"),
		ToolsDir:            filepath.Join(out, "llvm-build-tools"),
		ToolsCacheDir:       filepath.Join(out, "llvm-build-tools", "_cache"),
		LibcxxBuildDir:      filepath.Join(out, "libcxx-build"),
		LibcxxInstallDir:    filepath.Join(out, "libcxx-install"),
	}
}
