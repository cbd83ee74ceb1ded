package crucible

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMarker(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestNewWorkspaceLayout(t *testing.T) {
	ws := NewWorkspace("/home/dev/chromium/tools/clang")

	out := "/home/dev/chromium/tools/clang/out"
	assert.Equal(t, "/home/dev/chromium/tools/clang", ws.Root)
	assert.Equal(t, filepath.Join(out, "llvm-bootstrap"), ws.BootstrapBuildDir)
	assert.Equal(t, filepath.Join(out, "llvm-bootstrap-install"), ws.BootstrapInstallDir)
	assert.Equal(t, filepath.Join(out, "llvm-build"), ws.FinalBuildDir)
	assert.Equal(t, filepath.Join(out, "llvm-install"), ws.FinalInstallDir)
	assert.Equal(t, filepath.Join(out, "llvm-build-tools"), ws.ToolsDir)
	assert.Equal(t, filepath.Join(out, "llvm-build-tools", "_cache"), ws.ToolsCacheDir)
	assert.Equal(t, filepath.Join(out, "libcxx-build"), ws.LibcxxBuildDir)
	assert.Equal(t, filepath.Join(out, "libcxx-install"), ws.LibcxxInstallDir)

	// The llvm-project checkout is a sibling of the root.
	assert.Equal(t, filepath.Join("/home/dev/chromium/tools/clang", "..", "llvm-project"), ws.LLVMProjectDir)
}

func TestNewWorkspaceCleansRoot(t *testing.T) {
	ws := NewWorkspace("/work/clang/")
	assert.Equal(t, "/work/clang", ws.Root)
}

func TestArtifactCompleted(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "zlib.lib")

	a := Artifact{Name: "zlib", Marker: marker}
	assert.False(t, a.Completed())

	writeMarker(t, marker)
	assert.True(t, a.Completed())

	// No marker configured means never completed.
	assert.False(t, Artifact{Name: "zlib"}.Completed())
}
