package crucible

import (
	"fmt"
	"os"
	"path/filepath"
)

// BuildLibcxx builds libc++ (and its ABI library off Windows) against an
// already-installed final toolchain. It is a follow-up step, not part of
// the two-stage pipeline.
func BuildLibcxx(ws Workspace, installDirOverride string, runner commandRunner, platform string) error {
	if !fileExists(ws.FinalInstallDir) {
		return fmt.Errorf("toolchain install %s not found; run the compiler build first", ws.FinalInstallDir)
	}

	installDir := ws.LibcxxInstallDir
	if installDirOverride != "" {
		installDir = installDirOverride
	}

	bin := filepath.Join(ws.FinalInstallDir, "bin")
	fs := NewFlagSet()
	fs.Raw("-GNinja")
	base := []Flag{
		{Name: "CMAKE_BUILD_TYPE", Value: "Release"},
		{Name: "CMAKE_INSTALL_PREFIX", Value: installDir},
	}
	if platform == "windows" {
		base = append(base,
			Flag{Name: "CMAKE_C_COMPILER", Value: filepath.Join(bin, "clang-cl.exe")},
			Flag{Name: "CMAKE_CXX_COMPILER", Value: filepath.Join(bin, "clang-cl.exe")},
			Flag{Name: "CMAKE_LINKER", Value: filepath.Join(bin, "lld-link.exe")},
			Flag{Name: "LLVM_ENABLE_RUNTIMES", Value: "libcxx"},
		)
	} else {
		base = append(base,
			Flag{Name: "CMAKE_C_COMPILER", Value: filepath.Join(bin, "clang")},
			Flag{Name: "CMAKE_CXX_COMPILER", Value: filepath.Join(bin, "clang++")},
			Flag{Name: "CMAKE_LINKER", Value: filepath.Join(bin, "lld")},
			Flag{Name: "LIBCXXABI_USE_LLVM_UNWINDER", Value: "Off"},
			Flag{Name: "LLVM_ENABLE_RUNTIMES", Value: "libcxx;libcxxabi"},
		)
	}
	if err := fs.DefineAll(base); err != nil {
		return err
	}

	if platform == "darwin" {
		_ = os.Setenv("MACOSX_DEPLOYMENT_TARGET", "10.15")
	}

	if err := recreateDir(ws.LibcxxBuildDir); err != nil {
		return err
	}
	if err := rmTree(installDir); err != nil {
		return err
	}

	configure := append(fs.Tokens(), filepath.Join(ws.LLVMProjectDir, "runtimes"))
	cmd, err := backendCommand(platform, ws.LibcxxBuildDir, "cmake", configure...)
	if err != nil {
		return err
	}
	if err := runner.Run(cmd); err != nil {
		return fmt.Errorf("libc++ configure failed: %w", err)
	}

	cmd, err = backendCommand(platform, ws.LibcxxBuildDir, "ninja", "install")
	if err != nil {
		return err
	}
	if err := runner.Run(cmd); err != nil {
		return fmt.Errorf("libc++ build failed: %w", err)
	}

	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "libc++ installed:", installDir)
	return nil
}
