package crucible

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const (
	zlibVersion    = "zlib-1.2.11"
	libxml2Version = "libxml2-v2.9.12"
	zstdVersion    = "zstd-1.5.5"
)

// backendCommand builds one invocation of the external build backend.
// On Windows every command runs inside the vcvarsall environment of the
// detected Visual Studio.
func backendCommand(platform, dir, name string, args ...string) (*exec.Cmd, error) {
	if platform == "windows" {
		vs, err := DetectVisualStudio()
		if err != nil {
			return nil, err
		}
		wrapped := append([]string{"amd64", "&&", name}, args...)
		cmd := exec.Command(vs.VCVarsScript(), wrapped...)
		cmd.Dir = dir
		return cmd, nil
	}
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd, nil
}

// toolBuilder fetches and builds the prebuilt third-party dependencies
// the compiler build links against.
type toolBuilder struct {
	ws       Workspace
	platform string
	fetcher  *Fetcher
	runner   commandRunner
	force    bool
}

func (tb *toolBuilder) toolURL(version string) string {
	return toolsBucketURL + "/tools/" + version + ".tar.gz"
}

// fetchTool wipes any prior source tree and unpacks a fresh one, unless
// the artifact's completion marker is already present.
func (tb *toolBuilder) fetchTool(a Artifact) (cached bool, err error) {
	if a.Completed() && !tb.force {
		cPrintf(colInfo, "Reusing built %s\n", a.Version)
		debugf("Completion marker present: %s\n", a.Marker)
		return true, nil
	}
	if err := rmTree(a.Dir); err != nil {
		return false, err
	}
	if err := tb.fetcher.FetchArtifact(a, tb.ws.ToolsCacheDir, tb.ws.ToolsDir); err != nil {
		return false, fmt.Errorf("failed to fetch %s: %w", a.Name, err)
	}
	return false, nil
}

func (tb *toolBuilder) run(dir, name string, args ...string) error {
	cmd, err := backendCommand(tb.platform, dir, name, args...)
	if err != nil {
		return err
	}
	return tb.runner.Run(cmd)
}

// buildZlib compiles zlib with the MSVC toolchain and adds its directory
// to PATH. Windows only; other platforms link the system zlib.
func (tb *toolBuilder) buildZlib() (DepContribution, error) {
	dir := filepath.Join(tb.ws.ToolsDir, zlibVersion)
	a := Artifact{
		Name:    "zlib",
		Version: zlibVersion,
		URL:     tb.toolURL(zlibVersion),
		Dir:     dir,
		Marker:  filepath.Join(dir, "zlib.lib"),
	}
	contrib := DepContribution{
		Artifact: a,
		Defines:  []Flag{{Name: "LLVM_ENABLE_ZLIB", Value: "FORCE_ON"}},
		CFlags:   []string{"-I" + dir},
		LDFlags:  []string{"-LIBPATH:" + dir},
	}

	cached, err := tb.fetchTool(a)
	if err != nil || cached {
		return contrib, err
	}

	sources := []string{
		"adler32", "compress", "crc32", "deflate", "gzclose", "gzlib",
		"gzread", "gzwrite", "inflate", "infback", "inftrees", "inffast",
		"trees", "uncompr", "zutil",
	}
	clArgs := make([]string, 0, len(sources)+6)
	for _, s := range sources {
		clArgs = append(clArgs, s+".c")
	}
	clArgs = append(clArgs, "/nologo", "/O2", "/DZLIB_DLL", "/c",
		"/D_CRT_SECURE_NO_DEPRECATE", "/D_CRT_NONSTDC_NO_DEPRECATE")
	if err := tb.run(dir, "cl.exe", clArgs...); err != nil {
		return contrib, fmt.Errorf("zlib compile failed: %w", err)
	}

	libArgs := make([]string, 0, len(sources)+2)
	for _, s := range sources {
		libArgs = append(libArgs, s+".obj")
	}
	libArgs = append(libArgs, "/nologo", "/out:zlib.lib")
	if err := tb.run(dir, "lib.exe", libArgs...); err != nil {
		return contrib, fmt.Errorf("zlib archive failed: %w", err)
	}

	// Remove the test directory so its test.exe isn't found later.
	if err := rmTree(filepath.Join(dir, "test")); err != nil {
		return contrib, err
	}

	// zlib.dll is looked up through PATH by the build.
	_ = os.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return contrib, nil
}

// buildLibxml2 builds a hermetic static libxml2. Everything except tree
// and output support is disabled; that is all the manifest merger needs.
func (tb *toolBuilder) buildLibxml2() (DepContribution, error) {
	srcDir := filepath.Join(tb.ws.ToolsDir, libxml2Version)
	buildDir := filepath.Join(srcDir, "build")
	installDir := filepath.Join(buildDir, "install")

	libName := "libxml2.a"
	if tb.platform == "windows" {
		libName = "libxml2s.lib"
	}
	lib := filepath.Join(installDir, "lib", libName)

	a := Artifact{
		Name:    "libxml2",
		Version: libxml2Version,
		URL:     tb.toolURL(libxml2Version),
		Dir:     srcDir,
		Marker:  lib,
	}
	contrib := DepContribution{
		Artifact: a,
		Defines: []Flag{
			{Name: "LLVM_ENABLE_LIBXML2", Value: "FORCE_ON"},
			{Name: "LIBXML2_INCLUDE_DIR", Value: filepath.Join(installDir, "include", "libxml2")},
			{Name: "LIBXML2_LIBRARIES", Value: lib},
			{Name: "LIBXML2_LIBRARY", Value: lib},
			// This hermetic libxml2 is enough for lld-link but not for
			// the libclang usage, which we don't need anyway.
			{Name: "CLANG_ENABLE_LIBXML2", Value: "NO"},
		},
		CFlags: []string{"-DLIBXML_STATIC"},
	}

	cached, err := tb.fetchTool(a)
	if err != nil || cached {
		return contrib, err
	}

	if err := ensureDir(buildDir); err != nil {
		return contrib, err
	}
	configureArgs := []string{
		"-GNinja",
		"-DCMAKE_BUILD_TYPE=Release",
		"-DCMAKE_INSTALL_PREFIX=install",
		// Universal build keeps one archive serving both mac arches.
		"-DCMAKE_OSX_ARCHITECTURES=arm64;x86_64",
		"-DCMAKE_MSVC_RUNTIME_LIBRARY=MultiThreaded",
		"-DBUILD_SHARED_LIBS=OFF",
		"-DLIBXML2_WITH_C14N=OFF",
		"-DLIBXML2_WITH_CATALOG=OFF",
		"-DLIBXML2_WITH_DEBUG=OFF",
		"-DLIBXML2_WITH_DOCB=OFF",
		"-DLIBXML2_WITH_FTP=OFF",
		"-DLIBXML2_WITH_HTML=OFF",
		"-DLIBXML2_WITH_HTTP=OFF",
		"-DLIBXML2_WITH_ICONV=OFF",
		"-DLIBXML2_WITH_ICU=OFF",
		"-DLIBXML2_WITH_ISO8859X=OFF",
		"-DLIBXML2_WITH_LEGACY=OFF",
		"-DLIBXML2_WITH_LZMA=OFF",
		"-DLIBXML2_WITH_MEM_DEBUG=OFF",
		"-DLIBXML2_WITH_MODULES=OFF",
		"-DLIBXML2_WITH_OUTPUT=ON",
		"-DLIBXML2_WITH_PATTERN=OFF",
		"-DLIBXML2_WITH_PROGRAMS=OFF",
		"-DLIBXML2_WITH_PUSH=OFF",
		"-DLIBXML2_WITH_PYTHON=OFF",
		"-DLIBXML2_WITH_READER=OFF",
		"-DLIBXML2_WITH_REGEXPS=OFF",
		"-DLIBXML2_WITH_RUN_DEBUG=OFF",
		"-DLIBXML2_WITH_SAX1=OFF",
		"-DLIBXML2_WITH_SCHEMAS=OFF",
		"-DLIBXML2_WITH_SCHEMATRON=OFF",
		"-DLIBXML2_WITH_TESTS=OFF",
		// libxml doesn't compile on Linux without threads.
		"-DLIBXML2_WITH_THREADS=ON",
		"-DLIBXML2_WITH_THREAD_ALLOC=OFF",
		"-DLIBXML2_WITH_TREE=ON",
		"-DLIBXML2_WITH_VALID=OFF",
		"-DLIBXML2_WITH_WRITER=OFF",
		"-DLIBXML2_WITH_XINCLUDE=OFF",
		"-DLIBXML2_WITH_XPATH=OFF",
		"-DLIBXML2_WITH_XPTR=OFF",
		"-DLIBXML2_WITH_ZLIB=OFF",
		"..",
	}
	if err := tb.run(buildDir, "cmake", configureArgs...); err != nil {
		return contrib, fmt.Errorf("libxml2 configure failed: %w", err)
	}
	if err := tb.run(buildDir, "ninja", "install"); err != nil {
		return contrib, fmt.Errorf("libxml2 build failed: %w", err)
	}
	return contrib, nil
}

// buildZstd builds a static zstd so lld can emit zstd-compressed debug
// info.
func (tb *toolBuilder) buildZstd() (DepContribution, error) {
	srcDir := filepath.Join(tb.ws.ToolsDir, zstdVersion)
	buildDir := filepath.Join(srcDir, "cmake_build")
	installDir := filepath.Join(buildDir, "install")

	libName := "libzstd.a"
	if tb.platform == "windows" {
		libName = "zstd_static.lib"
	}
	lib := filepath.Join(installDir, "lib", libName)

	a := Artifact{
		Name:    "zstd",
		Version: zstdVersion,
		URL:     tb.toolURL(zstdVersion),
		Dir:     srcDir,
		Marker:  lib,
	}
	contrib := DepContribution{
		Artifact: a,
		Defines: []Flag{
			{Name: "LLVM_ENABLE_ZSTD", Value: "ON"},
			{Name: "LLVM_USE_STATIC_ZSTD", Value: "ON"},
			{Name: "zstd_INCLUDE_DIR", Value: filepath.Join(installDir, "include")},
			{Name: "zstd_LIBRARY", Value: lib},
		},
	}

	cached, err := tb.fetchTool(a)
	if err != nil || cached {
		return contrib, err
	}

	if err := ensureDir(buildDir); err != nil {
		return contrib, err
	}
	configureArgs := []string{
		"-GNinja",
		"-DCMAKE_BUILD_TYPE=Release",
		"-DCMAKE_INSTALL_PREFIX=install",
		"-DCMAKE_OSX_ARCHITECTURES=arm64;x86_64",
		"-DCMAKE_MSVC_RUNTIME_LIBRARY=MultiThreaded",
		"-DZSTD_BUILD_SHARED=OFF",
		filepath.Join("..", "build", "cmake"),
	}
	if err := tb.run(buildDir, "cmake", configureArgs...); err != nil {
		return contrib, fmt.Errorf("zstd configure failed: %w", err)
	}
	if err := tb.run(buildDir, "ninja", "install"); err != nil {
		return contrib, fmt.Errorf("zstd build failed: %w", err)
	}
	return contrib, nil
}
