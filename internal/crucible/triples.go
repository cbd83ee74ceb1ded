package crucible

import "fmt"

// mustTriple keeps the static tables below readable; a duplicate flag in
// a table is a programming error caught at startup.
func mustTriple(triple string, args []Flag, sanitizers, profile bool) TripleConfig {
	tc, err := NewTripleConfig(triple, args, sanitizers, profile)
	if err != nil {
		panic(err)
	}
	return tc
}

// runtimesTriples is the per-platform table of target triples the
// runtimes and builtins are configured for.
func runtimesTriples(platform string) []TripleConfig {
	switch platform {
	case "linux":
		return []TripleConfig{
			mustTriple("i386-unknown-linux-gnu", []Flag{
				// i386 tests don't compile with the flags they currently get.
				{Name: "LLVM_INCLUDE_TESTS", Value: "OFF"},
			}, true, true),
			mustTriple("x86_64-unknown-linux-gnu", nil, true, true),
			// "armv7a-unknown-linux-gnueabihf" confuses the compiler-rt
			// builtins build; its ARM32 list only knows "armv7".
			mustTriple("armv7-unknown-linux-gnueabihf", []Flag{
				// Can't run tests on x86 host.
				{Name: "LLVM_INCLUDE_TESTS", Value: "OFF"},
			}, true, true),
			mustTriple("aarch64-unknown-linux-gnu", []Flag{
				// Can't run tests on x86 host.
				{Name: "LLVM_INCLUDE_TESTS", Value: "OFF"},
			}, true, true),
		}
	case "windows":
		return []TripleConfig{
			mustTriple("i386-pc-windows-msvc", nil, false, false),
			mustTriple("x86_64-pc-windows-msvc", nil, true, true),
			mustTriple("aarch64-pc-windows-msvc", []Flag{
				// Can't run tests on x86 host.
				{Name: "LLVM_INCLUDE_TESTS", Value: "OFF"},
			}, false, false),
		}
	case "darwin":
		// compiler-rt is built for all arches in a single configuration,
		// so only the sentinel triple is specified.
		return []TripleConfig{
			mustTriple("default", []Flag{
				{Name: "COMPILER_RT_ENABLE_MACCATALYST", Value: "OFF"},
				{Name: "COMPILER_RT_ENABLE_IOS", Value: "OFF"},
				{Name: "COMPILER_RT_ENABLE_WATCHOS", Value: "OFF"},
				{Name: "COMPILER_RT_ENABLE_TVOS", Value: "OFF"},
				{Name: "COMPILER_RT_ENABLE_XROS", Value: "OFF"},
				{Name: "DARWIN_osx_ARCHS", Value: "arm64;x86_64"},
			}, true, true),
		}
	}
	return nil
}

// compilerRTFlags is the compiler-rt block shared by every triple, with
// the per-triple feature gates applied. COMPILER_RT_BUILD_BUILTINS is
// deliberately not set; it interferes with the runtimes logic.
func compilerRTFlags(sanitizers, profile bool) []Flag {
	onOff := func(b bool) string {
		if b {
			return "ON"
		}
		return "OFF"
	}
	return []Flag{
		// crtbegin/crtend are two tiny TUs, enable them everywhere even
		// though only Linux needs them.
		{Name: "COMPILER_RT_BUILD_CRT", Value: "ON"},
		{Name: "COMPILER_RT_BUILD_LIBFUZZER", Value: "OFF"},
		// ctx_profile depends on the sanitizer libraries, which are not
		// always built.
		{Name: "COMPILER_RT_BUILD_CTX_PROFILE", Value: "OFF"},
		{Name: "COMPILER_RT_BUILD_MEMPROF", Value: "OFF"},
		{Name: "COMPILER_RT_BUILD_ORC", Value: "OFF"},
		{Name: "COMPILER_RT_BUILD_PROFILE", Value: onOff(profile)},
		{Name: "COMPILER_RT_BUILD_SANITIZERS", Value: onOff(sanitizers)},
		{Name: "COMPILER_RT_BUILD_XRAY", Value: "OFF"},
		{Name: "COMPILER_RT_SANITIZERS_TO_BUILD", Value: "asan;dfsan;msan;hwasan;tsan;cfi"},
		// All wanted targets are listed explicitly, never autodetected.
		{Name: "COMPILER_RT_DEFAULT_TARGET_ONLY", Value: "ON"},
	}
}

// defaultTargetTriple pins LLVM_DEFAULT_TARGET_TRIPLE so the build does
// not depend on the host machine's autodetection.
func defaultTargetTriple(platform, machine string) (string, error) {
	switch platform {
	case "darwin":
		if machine == "arm64" {
			return "arm64-apple-darwin", nil
		}
		return "x86_64-apple-darwin", nil
	case "linux":
		switch machine {
		case "aarch64", "arm64":
			return "aarch64-unknown-linux-gnu", nil
		case "riscv64":
			return "riscv64-unknown-linux-gnu", nil
		case "loongarch64":
			return "loongarch64-unknown-linux-gnu", nil
		default:
			return "x86_64-unknown-linux-gnu", nil
		}
	case "windows":
		return "x86_64-pc-windows-msvc", nil
	}
	return "", fmt.Errorf("no default target triple for platform %q", platform)
}
