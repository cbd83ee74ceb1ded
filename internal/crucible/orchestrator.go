package crucible

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// BuildRequest is the top-level intent of one invocation. Immutable once
// constructed; owned by the orchestrator.
type BuildRequest struct {
	Bootstrap      bool   // build stage one first, then the compiler with itself
	BuildDir       string // override for the final build directory
	InstallDir     string // override for the final install directory
	ThinLTO        bool
	DisableAsserts bool
	PIC            bool
	WithZstd       bool
	RunTests       bool
	Force          bool // rebuild tool dependencies even when their markers exist
	Jobs           int  // parallelism hint forwarded to the backend, 0 = backend default
}

// StageResult is the outcome of one build stage. The final stage's
// InstallDir is the externally meaningful output of the whole run.
type StageResult struct {
	Success     bool
	InstallDir  string
	TestsRan    bool
	TestsPassed bool
}

// errMissingBootstrap is the specific precondition failure for entering
// the final build without a stage-one install.
var errMissingBootstrap = errors.New("bootstrap compiler install is missing; build the bootstrap stage first")

type buildState int

const (
	stateInit buildState = iota
	stateFetchDependencies
	stateBuildBootstrap
	stateInstallBootstrap
	stateBuildFinal
	stateRunTests
	stateInstallFinal
	stateDone
	stateFailed
)

func (s buildState) String() string {
	switch s {
	case stateInit:
		return "Init"
	case stateFetchDependencies:
		return "FetchDependencies"
	case stateBuildBootstrap:
		return "BuildBootstrap"
	case stateInstallBootstrap:
		return "InstallBootstrap"
	case stateBuildFinal:
		return "BuildFinal"
	case stateRunTests:
		return "RunTests"
	case stateInstallFinal:
		return "InstallFinal"
	case stateDone:
		return "Done"
	default:
		return "Failed"
	}
}

// Orchestrator drives the two-stage build sequentially on one control
// thread. All parallelism belongs to the backend's own job scheduling.
type Orchestrator struct {
	ws       Workspace
	req      BuildRequest
	platform string
	machine  string
	runner   commandRunner
	fetcher  *Fetcher

	state buildState
	synth *Synthesizer
}

func NewOrchestrator(ws Workspace, req BuildRequest, runner commandRunner, fetcher *Fetcher) *Orchestrator {
	return &Orchestrator{
		ws:       ws,
		req:      req,
		platform: HostPlatform(),
		machine:  hostMachine(),
		runner:   runner,
		fetcher:  fetcher,
		state:    stateInit,
	}
}

// HostPlatform maps GOOS onto the three platform families the toolchain
// build distinguishes.
func HostPlatform() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return runtime.GOOS
	default:
		return "linux"
	}
}

func hostMachine() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "i386"
	case "arm64":
		if runtime.GOOS == "darwin" {
			return "arm64"
		}
		return "aarch64"
	case "riscv64":
		return "riscv64"
	case "loong64":
		return "loongarch64"
	default:
		return runtime.GOARCH
	}
}

func (o *Orchestrator) fail(err error) (StageResult, error) {
	state := o.state
	o.state = stateFailed
	return StageResult{}, fmt.Errorf("%s: %w", state, err)
}

// Run executes the whole pipeline and returns the final stage's result.
func (o *Orchestrator) Run() (StageResult, error) {
	o.state = stateFetchDependencies
	if err := o.fetchDependencies(); err != nil {
		return o.fail(err)
	}

	if o.req.Bootstrap {
		o.state = stateBuildBootstrap
		cPrintf(colArrow, "-> ")
		cPrintln(colSuccess, "Building bootstrap compiler")
		if err := o.buildBootstrap(); err != nil {
			return o.fail(err)
		}
	}

	o.state = stateBuildFinal
	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "Building final compiler")
	result, err := o.buildFinal()
	if err != nil {
		return o.fail(err)
	}

	o.state = stateDone
	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "Toolchain build was successful:", result.InstallDir)
	return result, nil
}

// run hands one backend invocation to the runner, with an optional
// environment override.
func (o *Orchestrator) run(dir, name string, env []string, args ...string) error {
	cmd, err := backendCommand(o.platform, dir, name, args...)
	if err != nil {
		return err
	}
	if env != nil {
		cmd.Env = env
	}
	debugf("Running %s %s (in %s)\n", name, strings.Join(args, " "), dir)
	return o.runner.Run(cmd)
}

func (o *Orchestrator) ninjaArgs(extra ...string) []string {
	var args []string
	if o.req.Jobs > 0 {
		args = append(args, "-j", strconv.Itoa(o.req.Jobs))
	}
	return append(args, extra...)
}

// fetchDependencies builds the tool dependencies and records their flag
// contributions. A failure here is fatal; nothing downstream can link
// without them.
func (o *Orchestrator) fetchDependencies() error {
	tb := &toolBuilder{
		ws:       o.ws,
		platform: o.platform,
		fetcher:  o.fetcher,
		runner:   o.runner,
		force:    o.req.Force,
	}

	var deps []DepContribution

	if o.platform == "windows" {
		zlib, err := tb.buildZlib()
		if err != nil {
			return err
		}
		deps = append(deps, zlib)
	}

	// libxml2 is linked statically so lld-link does not require mt.exe
	// and behaves identically across hosts.
	libxml2, err := tb.buildLibxml2()
	if err != nil {
		return err
	}
	deps = append(deps, libxml2)

	if o.req.WithZstd {
		zstd, err := tb.buildZstd()
		if err != nil {
			return err
		}
		deps = append(deps, zstd)
	}

	o.synth = &Synthesizer{
		Request:  o.req,
		Platform: o.platform,
		Machine:  o.machine,
		Deps:     deps,
	}
	return nil
}

// testEnv returns the environment for a check-all run, with the known
// host-specific test failures filtered out.
func (o *Orchestrator) testEnv(base []string) []string {
	var excludes []string
	switch o.platform {
	case "linux":
		excludes = []string{
			// fstat and sunrpc tests fail on sysroot/host mismatches.
			`^MemorySanitizer-.* f?stat(at)?(64)?.cpp$`,
			`^.*Sanitizer-.*sunrpc.*cpp$`,
			// sysroot/host glibc version mismatch.
			`^.*Sanitizer.*mallinfo2.cpp$`,
			`^SanitizerCommon-Unit :: ./Sanitizer-x86_64-Test/.*$`,
			`^DataFlowSanitizer-x86_64.*release_shadow_space.c$`,
		}
	case "darwin":
		excludes = []string{
			`^.*Sanitizer.*Darwin/malloc_zone.cpp$`,
			`^.*ContinuousSyncMode/darwin-proof-of-concept.c$`,
			`^.*instrprof-darwin-exports.c$`,
			`^.*Interpreter/pretty-print.c$`,
		}
	}
	if len(excludes) == 0 {
		return nil
	}
	return append(base, "LIT_FILTER_OUT="+strings.Join(excludes, "|"))
}

// runBackendTests runs the backend's check target. A test failure is
// reported, not fatal: it never blocks installation on its own.
func (o *Orchestrator) runBackendTests(buildDir string, result *StageResult) error {
	o.state = stateRunTests
	result.TestsRan = true
	err := o.run(buildDir, "ninja", o.testEnv(os.Environ()), o.ninjaArgs("check-all")...)
	if err == nil {
		result.TestsPassed = true
		return nil
	}
	result.TestsPassed = false
	cPrintf(colWarn, "Test suite failed: %v\n", err)
	return nil
}

// buildBootstrap configures, builds, optionally tests and installs the
// stage-one compiler.
func (o *Orchestrator) buildBootstrap() error {
	flags, err := o.synth.BootstrapFlags(o.ws.BootstrapInstallDir)
	if err != nil {
		return err
	}

	if err := recreateDir(o.ws.BootstrapBuildDir); err != nil {
		return err
	}

	configure := append(flags.Tokens(), filepath.Join(o.ws.LLVMProjectDir, "llvm"))
	if err := o.run(o.ws.BootstrapBuildDir, "cmake", nil, configure...); err != nil {
		return fmt.Errorf("configure failed: %w", err)
	}
	if err := o.run(o.ws.BootstrapBuildDir, "ninja", nil, o.ninjaArgs()...); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	var bootstrapResult StageResult
	if o.req.RunTests {
		if err := o.runBackendTests(o.ws.BootstrapBuildDir, &bootstrapResult); err != nil {
			return err
		}
		o.state = stateBuildBootstrap
	}

	o.state = stateInstallBootstrap
	if err := rmTree(o.ws.BootstrapInstallDir); err != nil {
		return err
	}
	if err := o.run(o.ws.BootstrapBuildDir, "ninja", nil, o.ninjaArgs("install")...); err != nil {
		return fmt.Errorf("install failed: %w", err)
	}

	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "Bootstrap compiler installed")
	return nil
}

// stageToolchain resolves the compiler/linker the final stage is built
// with: the bootstrap install when present, the ambient environment
// otherwise.
func (o *Orchestrator) stageToolchain() (ToolchainPaths, error) {
	installed := fileExists(o.ws.BootstrapInstallDir)
	if o.req.Bootstrap && !installed {
		return ToolchainPaths{}, errMissingBootstrap
	}
	if !installed {
		// Bootstrap skipped: the backend picks the stock compiler up
		// from the environment.
		return ToolchainPaths{}, nil
	}

	bin := filepath.Join(o.ws.BootstrapInstallDir, "bin")
	if o.platform == "windows" {
		return ToolchainPaths{
			CC:     filepath.Join(bin, "clang-cl.exe"),
			CXX:    filepath.Join(bin, "clang-cl.exe"),
			Linker: filepath.Join(bin, "lld-link.exe"),
		}, nil
	}
	return ToolchainPaths{
		CC:  filepath.Join(bin, "clang"),
		CXX: filepath.Join(bin, "clang++"),
	}, nil
}

// buildFinal configures and builds stage two, optionally runs its tests,
// and installs the distribution components.
func (o *Orchestrator) buildFinal() (StageResult, error) {
	// Precondition check comes before any backend invocation.
	toolchain, err := o.stageToolchain()
	if err != nil {
		return StageResult{}, err
	}

	buildDir := o.ws.FinalBuildDir
	if o.req.BuildDir != "" {
		buildDir = o.req.BuildDir
	}
	installDir := o.ws.FinalInstallDir
	if o.req.InstallDir != "" {
		installDir = o.req.InstallDir
	}

	flags, err := o.synth.FinalFlags(toolchain, installDir)
	if err != nil {
		return StageResult{}, err
	}

	if err := recreateDir(buildDir); err != nil {
		return StageResult{}, err
	}

	configure := append(flags.Tokens(), filepath.Join(o.ws.LLVMProjectDir, "llvm"))
	if err := o.run(buildDir, "cmake", nil, configure...); err != nil {
		return StageResult{}, fmt.Errorf("configure failed: %w", err)
	}
	if err := o.run(buildDir, "ninja", nil, o.ninjaArgs()...); err != nil {
		return StageResult{}, fmt.Errorf("build failed: %w", err)
	}

	result := StageResult{InstallDir: installDir}
	if o.req.RunTests {
		if err := o.runBackendTests(buildDir, &result); err != nil {
			return result, err
		}
	}

	o.state = stateInstallFinal
	if err := rmTree(installDir); err != nil {
		return result, err
	}
	if err := o.run(buildDir, "ninja", nil, o.ninjaArgs("install-distribution")...); err != nil {
		return result, fmt.Errorf("install failed: %w", err)
	}

	result.Success = true
	return result, nil
}
