package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gookit/color"
	"github.com/integrii/flaggy"

	"crucible/internal/crucible"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		bootstrap      bool
		buildDir       string
		installDir     string
		thinLTO        bool
		disableAsserts bool
		pic            bool
		withoutZstd    bool
		runTests       bool
		force          bool
		jobs           int
		buildRoot      string
	)

	flaggy.SetName("crucible")
	flaggy.SetDescription("Build a clang/LLVM toolchain, optionally with itself")
	flaggy.SetVersion(crucible.Version())

	flaggy.Bool(&bootstrap, "b", "bootstrap", "first build the compiler with CC, then with itself")
	flaggy.String(&buildDir, "", "build-dir", "override the final build directory")
	flaggy.String(&installDir, "", "install-dir", "override the install directory for the final compiler")
	flaggy.Bool(&thinLTO, "", "thinlto", "build with ThinLTO")
	flaggy.Bool(&disableAsserts, "", "disable-asserts", "build with asserts disabled")
	flaggy.Bool(&pic, "", "pic", "use PIC when building LLVM")
	flaggy.Bool(&withoutZstd, "", "without-zstd", "disable zstd in the build")
	flaggy.Bool(&runTests, "", "run-tests", "run tests after building")
	flaggy.Bool(&force, "", "force", "rebuild tool dependencies even when cached")
	flaggy.Int(&jobs, "j", "jobs", "parallelism hint for the build backend")
	flaggy.String(&buildRoot, "", "root", "workspace root holding out/ (defaults to the working directory)")

	libcxxCmd := flaggy.NewSubcommand("libcxx")
	libcxxCmd.Description = "Build libc++ against an installed toolchain"
	var libcxxInstallDir string
	libcxxCmd.String(&libcxxInstallDir, "", "install-dir", "override the libc++ install directory")
	flaggy.AttachSubcommand(libcxxCmd, 1)

	uploadCmd := flaggy.NewSubcommand("upload")
	uploadCmd.Description = "Publish cached tool archives to the configured mirror"
	var cleanup bool
	uploadCmd.Bool(&cleanup, "c", "cleanup", "delete mirror objects with no local counterpart")
	flaggy.AttachSubcommand(uploadCmd, 1)

	flaggy.Parse()

	cfg, err := crucible.LoadConfig(crucible.ConfigFile)
	if err != nil {
		color.Error.Printf("failed to load config: %v\n", err)
		return 1
	}
	crucible.InitConfig(cfg)

	if buildRoot == "" {
		buildRoot, err = os.Getwd()
		if err != nil {
			color.Error.Printf("failed to resolve working directory: %v\n", err)
			return 1
		}
	}
	ws := crucible.NewWorkspace(buildRoot)

	// A signal kills the current backend subprocess via the shared
	// context; nothing else is cleaned up.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	executor := crucible.NewExecutor(ctx)

	switch {
	case libcxxCmd.Used:
		if err := crucible.BuildLibcxx(ws, libcxxInstallDir, executor, crucible.HostPlatform()); err != nil {
			color.Error.Printf("libcxx: %v\n", err)
			return 1
		}
	case uploadCmd.Used:
		if err := crucible.UploadToolArchives(ctx, cfg, ws, cleanup); err != nil {
			color.Error.Printf("upload: %v\n", err)
			return 1
		}
	default:
		req := crucible.BuildRequest{
			Bootstrap:      bootstrap,
			BuildDir:       buildDir,
			InstallDir:     installDir,
			ThinLTO:        thinLTO,
			DisableAsserts: disableAsserts,
			PIC:            pic,
			WithZstd:       !withoutZstd,
			RunTests:       runTests,
			Force:          force,
			Jobs:           jobs,
		}
		orch := crucible.NewOrchestrator(ws, req, executor, crucible.NewFetcher())
		if _, err := orch.Run(); err != nil {
			color.Error.Printf("crucible: %v\n", err)
			return 1
		}
	}
	return 0
}
