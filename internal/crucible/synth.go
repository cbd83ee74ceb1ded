package crucible

import (
	"strings"
)

// Stage selects which of the two builds flags are synthesized for.
type Stage int

const (
	StageBootstrap Stage = iota
	StageFinal
)

const (
	llvmTargets       = "AArch64;ARM;LoongArch;Mips;PowerPC;RISCV;SystemZ;WebAssembly;X86"
	llvmProjects      = "clang;lld;clang-tools-extra"
	bootstrapProjects = "clang;lld"
)

// ToolchainPaths names the compiler and linker executables injected into
// the final stage. Zero value means "use the ambient environment".
type ToolchainPaths struct {
	CC     string
	CXX    string
	Linker string
}

// DepContribution is what one built tool dependency adds to later
// stages. The defines are only injected once the artifact's completion
// marker proves the dependency was actually built.
type DepContribution struct {
	Artifact Artifact
	Defines  []Flag
	CFlags   []string
	LDFlags  []string
}

// Synthesizer produces the complete, collision-free flag set for one
// stage of the build.
type Synthesizer struct {
	Request  BuildRequest
	Platform string // "linux", "darwin" or "windows"
	Machine  string // hardware identity, uname -m style
	Deps     []DepContribution

	// Triples overrides the platform triple table; nil selects
	// runtimesTriples(Platform).
	Triples []TripleConfig
}

func (s *Synthesizer) triples() []TripleConfig {
	if s.Triples != nil {
		return s.Triples
	}
	return runtimesTriples(s.Platform)
}

// gatedDeps filters to dependencies whose completion marker is present.
func (s *Synthesizer) gatedDeps() []DepContribution {
	var out []DepContribution
	for _, d := range s.Deps {
		if d.Artifact.Completed() {
			out = append(out, d)
		} else {
			debugf("Dependency %s not built, omitting its flags\n", d.Artifact.Name)
		}
	}
	return out
}

func (s *Synthesizer) depCFlags(stage Stage) []string {
	var cflags []string
	for _, d := range s.gatedDeps() {
		cflags = append(cflags, d.CFlags...)
	}
	if stage == StageFinal && s.Platform == "windows" {
		// PDBs for archival; stack cookies off for performance.
		cflags = append(cflags, "/Zi", "/GS-")
	}
	return cflags
}

func (s *Synthesizer) depLDFlags(stage Stage) []string {
	var ldflags []string
	for _, d := range s.gatedDeps() {
		ldflags = append(ldflags, d.LDFlags...)
	}
	if stage == StageFinal && s.Platform == "windows" {
		ldflags = append(ldflags, "/DEBUG", "/OPT:REF", "/OPT:ICF")
	}
	return ldflags
}

// baseFlags emits the platform-invariant block plus its platform- and
// stage-specific overrides. The single-assignment invariant of FlagSet
// means overrides are resolved here instead of emitted twice.
func (s *Synthesizer) baseFlags(stage Stage, fs *FlagSet) error {
	fs.Raw("-GNinja")

	assertions := "ON"
	if stage == StageFinal && s.Request.DisableAsserts {
		// The bootstrap compiler ignores this: its own correctness
		// matters more than its speed.
		assertions = "OFF"
	}

	projects := llvmProjects
	targets := llvmTargets
	if stage == StageBootstrap {
		projects = bootstrapProjects
		targets = "X86"
		if s.Platform == "darwin" {
			// Need ARM and AArch64 for building the ios clang_rt.
			targets += ";ARM;AArch64"
		}
	}

	picMode := "OFF"
	if s.Request.PIC || s.Platform == "windows" {
		picMode = "ON"
	}

	perTargetRuntimeDir := "OFF"
	if stage == StageFinal && s.Platform == "linux" {
		perTargetRuntimeDir = "ON"
	}

	base := []Flag{
		{Name: "CMAKE_BUILD_TYPE", Value: "Release"},
		{Name: "LLVM_ENABLE_ASSERTIONS", Value: assertions},
		{Name: "LLVM_ENABLE_PROJECTS", Value: projects},
		{Name: "LLVM_ENABLE_RUNTIMES", Value: "compiler-rt"},
		{Name: "LLVM_TARGETS_TO_BUILD", Value: targets},
		{Name: "LLVM_ENABLE_PIC", Value: picMode},
		{Name: "LLVM_ENABLE_Z3_SOLVER", Value: "OFF"},
		{Name: "CLANG_ENABLE_STATIC_ANALYZER", Value: "OFF"},
		{Name: "CLANG_ENABLE_ARCMT", Value: "OFF"},
		{Name: "LLVM_ENABLE_UNWIND_TABLES", Value: "OFF"},
		// Use the native symbolizer instead of DIA.
		{Name: "LLVM_ENABLE_DIA_SDK", Value: "OFF"},
		// Link all binaries with lld. On Windows cmake calls the linker
		// directly, so CMAKE_LINKER does the same there.
		{Name: "LLVM_ENABLE_LLD", Value: "ON"},
		{Name: "LLVM_ENABLE_PER_TARGET_RUNTIME_DIR", Value: perTargetRuntimeDir},
		{Name: "LLVM_ENABLE_CURL", Value: "OFF"},
		// Build libclang.a as well as libclang.so.
		{Name: "LIBCLANG_BUILD_STATIC", Value: "ON"},
		// FileCheck is built but not installed by default; downstream
		// builds expect to find it next to the compiler.
		{Name: "LLVM_INSTALL_UTILS", Value: "ON"},
	}
	if err := fs.DefineAll(base); err != nil {
		return err
	}

	if s.Platform == "windows" {
		// /MT to match LLVM.
		if err := fs.Define("CMAKE_MSVC_RUNTIME_LIBRARY", "MultiThreaded"); err != nil {
			return err
		}
	}

	for _, d := range s.gatedDeps() {
		if err := fs.DefineAll(d.Defines); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synthesizer) compilerAndLinkerFlags(stage Stage, fs *FlagSet) error {
	cflags := strings.Join(s.depCFlags(stage), " ")
	ldflags := strings.Join(s.depLDFlags(stage), " ")
	return fs.DefineAll([]Flag{
		{Name: "CMAKE_C_FLAGS", Value: cflags},
		{Name: "CMAKE_CXX_FLAGS", Value: cflags},
		{Name: "CMAKE_EXE_LINKER_FLAGS", Value: ldflags},
		{Name: "CMAKE_SHARED_LINKER_FLAGS", Value: ldflags},
		{Name: "CMAKE_MODULE_LINKER_FLAGS", Value: ldflags},
	})
}

// BootstrapFlags synthesizes the stage-one configuration. The bootstrap
// build targets only the host, installs into its own prefix and always
// carries assertions.
func (s *Synthesizer) BootstrapFlags(installDir string) (*FlagSet, error) {
	fs := NewFlagSet()
	if err := s.baseFlags(StageBootstrap, fs); err != nil {
		return nil, err
	}
	if err := fs.Define("CMAKE_INSTALL_PREFIX", installDir); err != nil {
		return nil, err
	}
	if err := s.compilerAndLinkerFlags(StageBootstrap, fs); err != nil {
		return nil, err
	}
	if err := fs.DefineAll(compilerRTFlags(false, false)); err != nil {
		return nil, err
	}

	if s.Platform == "darwin" {
		extra := []Flag{
			{Name: "COMPILER_RT_ENABLE_IOS", Value: "OFF"},
			{Name: "COMPILER_RT_ENABLE_WATCHOS", Value: "OFF"},
			{Name: "COMPILER_RT_ENABLE_TVOS", Value: "OFF"},
		}
		osxArchs := "x86_64"
		if s.Machine == "arm64" {
			osxArchs = "arm64"
		}
		extra = append(extra, Flag{Name: "DARWIN_osx_ARCHS", Value: osxArchs})
		if err := fs.DefineAll(extra); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

// FinalFlags synthesizes the stage-two configuration, including the
// per-triple runtimes/builtins matrix and the distribution layout.
func (s *Synthesizer) FinalFlags(tc ToolchainPaths, installDir string) (*FlagSet, error) {
	fs := NewFlagSet()
	if err := s.baseFlags(StageFinal, fs); err != nil {
		return nil, err
	}

	if tc.CC != "" {
		if err := fs.Define("CMAKE_C_COMPILER", tc.CC); err != nil {
			return nil, err
		}
		if err := fs.Define("CMAKE_CXX_COMPILER", tc.CXX); err != nil {
			return nil, err
		}
	}
	if tc.Linker != "" {
		if err := fs.Define("CMAKE_LINKER", tc.Linker); err != nil {
			return nil, err
		}
	}

	if err := s.compilerAndLinkerFlags(StageFinal, fs); err != nil {
		return nil, err
	}
	if err := fs.Define("CMAKE_INSTALL_PREFIX", installDir); err != nil {
		return nil, err
	}

	tools := toolchainTools(s.Platform)
	distribution := append([]string{"clang", "clang-resource-headers", "lld", "builtins"}, tools...)
	if err := fs.DefineAll([]Flag{
		{Name: "LLVM_TOOLCHAIN_TOOLS", Value: strings.Join(tools, ";")},
		{Name: "LLVM_DISTRIBUTION_COMPONENTS", Value: strings.Join(distribution, ";")},
		{Name: "LLVM_INSTALL_TOOLCHAIN_ONLY", Value: "ON"},
	}); err != nil {
		return nil, err
	}

	if s.Request.ThinLTO {
		if err := fs.Define("LLVM_ENABLE_LTO", "Thin"); err != nil {
			return nil, err
		}
	}

	triple, err := defaultTargetTriple(s.Platform, s.Machine)
	if err != nil {
		return nil, err
	}
	if err := fs.Define("LLVM_DEFAULT_TARGET_TRIPLE", triple); err != nil {
		return nil, err
	}

	if err := s.emitTriples(fs); err != nil {
		return nil, err
	}
	return fs, nil
}

// emitTriples converts each triple's flags into the RUNTIMES_<triple>_
// and BUILTINS_<triple>_ namespaces ("default" passes through bare) and
// aggregates the triple lists the runtimes build is driven by.
func (s *Synthesizer) emitTriples(fs *FlagSet) error {
	var all []string
	for _, tc := range sortTriples(s.triples()) {
		all = append(all, tc.Triple)

		for _, f := range tc.Args {
			if tc.Triple == "default" {
				if err := fs.Define(f.Name, f.Value); err != nil {
					return err
				}
				continue
			}
			if err := fs.Define("RUNTIMES_"+tc.Triple+"_"+f.Name, f.Value); err != nil {
				return err
			}
			if err := fs.Define("BUILTINS_"+tc.Triple+"_"+f.Name, f.Value); err != nil {
				return err
			}
		}
		for _, f := range compilerRTFlags(tc.Sanitizers, tc.Profile) {
			if tc.Triple == "default" {
				if err := fs.Define(f.Name, f.Value); err != nil {
					return err
				}
				continue
			}
			if err := fs.Define("RUNTIMES_"+tc.Triple+"_"+f.Name, f.Value); err != nil {
				return err
			}
		}
	}

	joined := strings.Join(all, ";")
	if err := fs.Define("LLVM_BUILTIN_TARGETS", joined); err != nil {
		return err
	}
	return fs.Define("LLVM_RUNTIME_TARGETS", joined)
}

func toolchainTools(platform string) []string {
	if platform == "windows" {
		return []string{
			"llvm-ml",
			"llvm-pdbutil",
			"llvm-readobj",
			"llvm-symbolizer",
			"llvm-undname",
		}
	}
	return []string{
		"llvm-ar",
		"llvm-ml",
		"llvm-objcopy",
		"llvm-pdbutil",
		"llvm-readobj",
		"llvm-symbolizer",
		"llvm-undname",
	}
}
