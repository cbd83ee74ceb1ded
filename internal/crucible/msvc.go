package crucible

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// VSInstall identifies one Visual Studio installation.
type VSInstall struct {
	Version string // product year, e.g. "2022"
	Dir     string // install root
}

// VCVarsScript returns the environment setup script every build command
// is wrapped in on Windows.
func (v VSInstall) VCVarsScript() string {
	return filepath.Join(v.Dir, "VC", "Auxiliary", "Build", "vcvarsall.bat")
}

// msvsVersions lists supported Visual Studio versions in descending
// order of priority. The first one is assumed to be the packaged
// version, which makes a difference for the arm64 runtime.
var msvsVersions = []struct {
	Year    string
	Release string
}{
	{"2022", "17.0"},
	{"2019", "16.0"},
	{"2017", "15.0"},
}

var vsEditions = []string{
	"Enterprise",
	"Professional",
	"Community",
	"Preview",
	"BuildTools",
}

var (
	vsOnce   sync.Once
	vsCached VSInstall
	vsErr    error
)

// DetectVisualStudio returns the best available Visual Studio
// installation. The first match is cached for the rest of the process so
// repeated lookups do not re-probe the filesystem.
func DetectVisualStudio() (VSInstall, error) {
	vsOnce.Do(func() {
		vsCached, vsErr = probeVisualStudio(os.Getenv, func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		})
	})
	return vsCached, vsErr
}

// probeVisualStudio checks, for each supported version newest first, the
// vsNNNN_install override variable and then the well-known install roots
// across all editions. The env and exists probes are parameters so the
// order and the error text are testable without a Windows host.
func probeVisualStudio(getenv func(string) string, exists func(string) bool) (VSInstall, error) {
	for _, v := range msvsVersions {
		// vs2019_install may hold e.g.
		// "C:\Program Files (x86)\Microsoft Visual Studio\2019\Community".
		if path := getenv("vs" + v.Year + "_install"); path != "" && exists(path) {
			return VSInstall{Version: v.Year, Dir: path}, nil
		}

		for _, rootVar := range []string{"ProgramFiles", "ProgramFiles(x86)"} {
			root := getenv(rootVar)
			if root == "" {
				continue
			}
			for _, edition := range vsEditions {
				path := filepath.Join(root, "Microsoft Visual Studio", v.Year, edition)
				if exists(path) {
					return VSInstall{Version: v.Year, Dir: path}, nil
				}
			}
		}
	}

	tried := make([]string, 0, len(msvsVersions))
	for _, v := range msvsVersions {
		tried = append(tried, fmt.Sprintf("%s (%s)", v.Year, v.Release))
	}
	return VSInstall{}, fmt.Errorf("no supported Visual Studio found; supported versions are: %s",
		strings.Join(tried, ", "))
}
