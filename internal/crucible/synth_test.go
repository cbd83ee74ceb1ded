package crucible

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// defineMap parses the -DNAME=VALUE tokens of a flag set for assertions.
func defineMap(t *testing.T, fs *FlagSet) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, tok := range fs.Tokens() {
		if !strings.HasPrefix(tok, "-D") {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(tok, "-D"), "=", 2)
		require.Len(t, parts, 2, "malformed define %q", tok)
		out[parts[0]] = parts[1]
	}
	return out
}

func TestBootstrapFlagsAlwaysCarryAssertions(t *testing.T) {
	s := &Synthesizer{
		Request:  BuildRequest{DisableAsserts: true},
		Platform: "linux",
		Machine:  "x86_64",
	}
	fs, err := s.BootstrapFlags("/prefix/bootstrap")
	require.NoError(t, err)

	defines := defineMap(t, fs)
	assert.Equal(t, "ON", defines["LLVM_ENABLE_ASSERTIONS"])
	assert.Equal(t, "clang;lld", defines["LLVM_ENABLE_PROJECTS"])
	assert.Equal(t, "X86", defines["LLVM_TARGETS_TO_BUILD"])
	assert.Equal(t, "/prefix/bootstrap", defines["CMAKE_INSTALL_PREFIX"])
	// Stage one never builds the sanitizer or profile runtimes.
	assert.Equal(t, "OFF", defines["COMPILER_RT_BUILD_SANITIZERS"])
	assert.Equal(t, "OFF", defines["COMPILER_RT_BUILD_PROFILE"])
	assert.Equal(t, "OFF", defines["LLVM_ENABLE_PER_TARGET_RUNTIME_DIR"])
	assert.Equal(t, "-GNinja", fs.Tokens()[0])
}

func TestBootstrapFlagsDarwinBuildsExtraTargets(t *testing.T) {
	s := &Synthesizer{Platform: "darwin", Machine: "arm64"}
	fs, err := s.BootstrapFlags("/prefix/bootstrap")
	require.NoError(t, err)

	defines := defineMap(t, fs)
	assert.Equal(t, "X86;ARM;AArch64", defines["LLVM_TARGETS_TO_BUILD"])
	assert.Equal(t, "OFF", defines["COMPILER_RT_ENABLE_IOS"])
	assert.Equal(t, "arm64", defines["DARWIN_osx_ARCHS"])
}

func TestFinalFlagsSingleDefaultTripleIsUnprefixed(t *testing.T) {
	tc, err := NewTripleConfig("default", []Flag{
		{Name: "COMPILER_RT_ENABLE_IOS", Value: "OFF"},
	}, true, true)
	require.NoError(t, err)

	s := &Synthesizer{
		Request:  BuildRequest{},
		Platform: "darwin",
		Machine:  "arm64",
		Triples:  []TripleConfig{tc},
	}
	fs, err := s.FinalFlags(ToolchainPaths{}, "/prefix/install")
	require.NoError(t, err)

	defines := defineMap(t, fs)
	// Sentinel triple passes through without namespacing.
	assert.Equal(t, "OFF", defines["COMPILER_RT_ENABLE_IOS"])
	assert.Equal(t, "ON", defines["COMPILER_RT_BUILD_SANITIZERS"])
	assert.Equal(t, "default", defines["LLVM_BUILTIN_TARGETS"])
	assert.Equal(t, "default", defines["LLVM_RUNTIME_TARGETS"])
	for name := range defines {
		assert.False(t, strings.HasPrefix(name, "RUNTIMES_"), "unexpected namespaced flag %s", name)
		assert.False(t, strings.HasPrefix(name, "BUILTINS_"), "unexpected namespaced flag %s", name)
	}
	// No toolchain injection when the ambient compiler is used.
	assert.NotContains(t, defines, "CMAKE_C_COMPILER")
	assert.NotContains(t, defines, "CMAKE_LINKER")
}

func TestFinalFlagsEmitsDualNamespacesSortedPerTriple(t *testing.T) {
	x86, err := NewTripleConfig("x86_64-unknown-linux-gnu", nil, true, true)
	require.NoError(t, err)
	arm, err := NewTripleConfig("aarch64-unknown-linux-gnu", []Flag{
		{Name: "LLVM_INCLUDE_TESTS", Value: "OFF"},
	}, true, false)
	require.NoError(t, err)

	s := &Synthesizer{
		Request:  BuildRequest{},
		Platform: "linux",
		Machine:  "x86_64",
		Triples:  []TripleConfig{x86, arm},
	}
	fs, err := s.FinalFlags(ToolchainPaths{}, "/prefix/install")
	require.NoError(t, err)

	defines := defineMap(t, fs)
	// Aggregation lists are sorted regardless of table order.
	assert.Equal(t, "aarch64-unknown-linux-gnu;x86_64-unknown-linux-gnu", defines["LLVM_BUILTIN_TARGETS"])
	assert.Equal(t, "aarch64-unknown-linux-gnu;x86_64-unknown-linux-gnu", defines["LLVM_RUNTIME_TARGETS"])

	// Triple args land in both namespaces.
	assert.Equal(t, "OFF", defines["RUNTIMES_aarch64-unknown-linux-gnu_LLVM_INCLUDE_TESTS"])
	assert.Equal(t, "OFF", defines["BUILTINS_aarch64-unknown-linux-gnu_LLVM_INCLUDE_TESTS"])

	// compiler-rt feature gates are runtimes-only and independent per triple.
	assert.Equal(t, "ON", defines["RUNTIMES_x86_64-unknown-linux-gnu_COMPILER_RT_BUILD_PROFILE"])
	assert.Equal(t, "OFF", defines["RUNTIMES_aarch64-unknown-linux-gnu_COMPILER_RT_BUILD_PROFILE"])
	assert.NotContains(t, defines, "BUILTINS_x86_64-unknown-linux-gnu_COMPILER_RT_BUILD_PROFILE")

	assert.Equal(t, "ON", defines["LLVM_ENABLE_PER_TARGET_RUNTIME_DIR"])
	assert.Equal(t, "x86_64-unknown-linux-gnu", defines["LLVM_DEFAULT_TARGET_TRIPLE"])
}

func TestFinalFlagsDisableAssertsAndThinLTO(t *testing.T) {
	tc, err := NewTripleConfig("default", nil, false, false)
	require.NoError(t, err)
	s := &Synthesizer{
		Request:  BuildRequest{DisableAsserts: true, ThinLTO: true},
		Platform: "linux",
		Machine:  "aarch64",
		Triples:  []TripleConfig{tc},
	}
	fs, err := s.FinalFlags(ToolchainPaths{}, "/prefix/install")
	require.NoError(t, err)

	defines := defineMap(t, fs)
	assert.Equal(t, "OFF", defines["LLVM_ENABLE_ASSERTIONS"])
	assert.Equal(t, "Thin", defines["LLVM_ENABLE_LTO"])
	assert.Equal(t, "aarch64-unknown-linux-gnu", defines["LLVM_DEFAULT_TARGET_TRIPLE"])
	assert.Equal(t, "clang;lld;clang-tools-extra", defines["LLVM_ENABLE_PROJECTS"])
}

func TestFinalFlagsInjectsBootstrapToolchain(t *testing.T) {
	tc, err := NewTripleConfig("default", nil, false, false)
	require.NoError(t, err)
	s := &Synthesizer{
		Platform: "linux",
		Machine:  "x86_64",
		Triples:  []TripleConfig{tc},
	}
	fs, err := s.FinalFlags(ToolchainPaths{
		CC:  "/boot/bin/clang",
		CXX: "/boot/bin/clang++",
	}, "/prefix/install")
	require.NoError(t, err)

	defines := defineMap(t, fs)
	assert.Equal(t, "/boot/bin/clang", defines["CMAKE_C_COMPILER"])
	assert.Equal(t, "/boot/bin/clang++", defines["CMAKE_CXX_COMPILER"])
	assert.NotContains(t, defines, "CMAKE_LINKER")
}

func TestFinalFlagsDistributionComponents(t *testing.T) {
	tc, err := NewTripleConfig("default", nil, false, false)
	require.NoError(t, err)
	s := &Synthesizer{Platform: "linux", Machine: "x86_64", Triples: []TripleConfig{tc}}
	fs, err := s.FinalFlags(ToolchainPaths{}, "/prefix/install")
	require.NoError(t, err)

	defines := defineMap(t, fs)
	dist := strings.Split(defines["LLVM_DISTRIBUTION_COMPONENTS"], ";")
	assert.Contains(t, dist, "clang")
	assert.Contains(t, dist, "clang-resource-headers")
	assert.Contains(t, dist, "lld")
	assert.Contains(t, dist, "builtins")
	assert.Contains(t, dist, "llvm-objcopy")
	assert.Equal(t, "ON", defines["LLVM_INSTALL_TOOLCHAIN_ONLY"])
}

func TestSynthesizerGatesDepsOnCompletionMarker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "libzstd.a")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	built := DepContribution{
		Artifact: Artifact{Name: "zstd", Marker: marker},
		Defines:  []Flag{{Name: "LLVM_ENABLE_ZSTD", Value: "ON"}},
	}
	unbuilt := DepContribution{
		Artifact: Artifact{Name: "libxml2", Marker: filepath.Join(dir, "missing.a")},
		Defines:  []Flag{{Name: "LLVM_ENABLE_LIBXML2", Value: "FORCE_ON"}},
		CFlags:   []string{"-DLIBXML_STATIC"},
	}

	s := &Synthesizer{
		Platform: "linux",
		Machine:  "x86_64",
		Deps:     []DepContribution{built, unbuilt},
	}
	fs, err := s.BootstrapFlags("/prefix/bootstrap")
	require.NoError(t, err)

	defines := defineMap(t, fs)
	assert.Equal(t, "ON", defines["LLVM_ENABLE_ZSTD"])
	assert.NotContains(t, defines, "LLVM_ENABLE_LIBXML2")
	assert.NotContains(t, defines["CMAKE_C_FLAGS"], "-DLIBXML_STATIC")
}

func TestWindowsFinalFlagsCarryDebugFlags(t *testing.T) {
	tc, err := NewTripleConfig("x86_64-pc-windows-msvc", nil, true, true)
	require.NoError(t, err)
	s := &Synthesizer{Platform: "windows", Machine: "x86_64", Triples: []TripleConfig{tc}}

	fs, err := s.FinalFlags(ToolchainPaths{}, `C:\prefix\install`)
	require.NoError(t, err)
	defines := defineMap(t, fs)

	assert.Equal(t, "MultiThreaded", defines["CMAKE_MSVC_RUNTIME_LIBRARY"])
	assert.Contains(t, defines["CMAKE_C_FLAGS"], "/Zi")
	assert.Contains(t, defines["CMAKE_C_FLAGS"], "/GS-")
	assert.Contains(t, defines["CMAKE_EXE_LINKER_FLAGS"], "/OPT:REF")
	// PIC is forced on Windows.
	assert.Equal(t, "ON", defines["LLVM_ENABLE_PIC"])

	boot, err := s.BootstrapFlags(`C:\prefix\bootstrap`)
	require.NoError(t, err)
	bootDefines := defineMap(t, boot)
	// Debug flags are a final-stage concern only.
	assert.NotContains(t, bootDefines["CMAKE_C_FLAGS"], "/Zi")
}

func TestDefaultTargetTriple(t *testing.T) {
	cases := []struct {
		platform, machine, want string
	}{
		{"linux", "x86_64", "x86_64-unknown-linux-gnu"},
		{"linux", "aarch64", "aarch64-unknown-linux-gnu"},
		{"linux", "riscv64", "riscv64-unknown-linux-gnu"},
		{"linux", "loongarch64", "loongarch64-unknown-linux-gnu"},
		{"darwin", "arm64", "arm64-apple-darwin"},
		{"darwin", "x86_64", "x86_64-apple-darwin"},
		{"windows", "x86_64", "x86_64-pc-windows-msvc"},
	}
	for _, c := range cases {
		got, err := defaultTargetTriple(c.platform, c.machine)
		require.NoError(t, err, "%s/%s", c.platform, c.machine)
		assert.Equal(t, c.want, got)
	}

	_, err := defaultTargetTriple("plan9", "mips")
	assert.Error(t, err)
}
