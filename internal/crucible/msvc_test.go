package crucible

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func fakeExists(paths ...string) func(string) bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return func(p string) bool { return set[p] }
}

func TestProbeVisualStudioEnvOverrideWins(t *testing.T) {
	override := filepath.Join("C:", "VS2022", "Community")
	wellKnown := filepath.Join("C:", "Program Files", "Microsoft Visual Studio", "2022", "Enterprise")

	vs, err := probeVisualStudio(
		fakeEnv(map[string]string{
			"vs2022_install": override,
			"ProgramFiles":   filepath.Join("C:", "Program Files"),
		}),
		fakeExists(override, wellKnown),
	)
	require.NoError(t, err)
	assert.Equal(t, "2022", vs.Version)
	assert.Equal(t, override, vs.Dir)
}

func TestProbeVisualStudioIgnoresStaleEnvOverride(t *testing.T) {
	// The override points at a removed install; the well-known root is
	// still picked up.
	wellKnown := filepath.Join("C:", "Program Files", "Microsoft Visual Studio", "2022", "Community")

	vs, err := probeVisualStudio(
		fakeEnv(map[string]string{
			"vs2022_install": filepath.Join("C:", "gone"),
			"ProgramFiles":   filepath.Join("C:", "Program Files"),
		}),
		fakeExists(wellKnown),
	)
	require.NoError(t, err)
	assert.Equal(t, wellKnown, vs.Dir)
}

func TestProbeVisualStudioPrefersNewerVersion(t *testing.T) {
	pf := filepath.Join("C:", "Program Files")
	vs2019 := filepath.Join(pf, "Microsoft Visual Studio", "2019", "Professional")
	vs2017 := filepath.Join(pf, "Microsoft Visual Studio", "2017", "Enterprise")

	vs, err := probeVisualStudio(
		fakeEnv(map[string]string{"ProgramFiles": pf}),
		fakeExists(vs2019, vs2017),
	)
	require.NoError(t, err)
	assert.Equal(t, "2019", vs.Version)
	assert.Equal(t, vs2019, vs.Dir)
}

func TestProbeVisualStudioEditionPriority(t *testing.T) {
	pf := filepath.Join("C:", "Program Files")
	enterprise := filepath.Join(pf, "Microsoft Visual Studio", "2022", "Enterprise")
	community := filepath.Join(pf, "Microsoft Visual Studio", "2022", "Community")

	vs, err := probeVisualStudio(
		fakeEnv(map[string]string{"ProgramFiles": pf}),
		fakeExists(community, enterprise),
	)
	require.NoError(t, err)
	assert.Equal(t, enterprise, vs.Dir)
}

func TestProbeVisualStudioChecksBothProgramFilesRoots(t *testing.T) {
	pf86 := filepath.Join("C:", "Program Files (x86)")
	installed := filepath.Join(pf86, "Microsoft Visual Studio", "2017", "BuildTools")

	vs, err := probeVisualStudio(
		fakeEnv(map[string]string{
			"ProgramFiles":      filepath.Join("C:", "Program Files"),
			"ProgramFiles(x86)": pf86,
		}),
		fakeExists(installed),
	)
	require.NoError(t, err)
	assert.Equal(t, "2017", vs.Version)
}

func TestProbeVisualStudioEnumeratesSupportedVersions(t *testing.T) {
	_, err := probeVisualStudio(fakeEnv(nil), fakeExists())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2022 (17.0)")
	assert.Contains(t, err.Error(), "2019 (16.0)")
	assert.Contains(t, err.Error(), "2017 (15.0)")
}

func TestVCVarsScriptPath(t *testing.T) {
	vs := VSInstall{Version: "2022", Dir: filepath.Join("C:", "VS")}
	assert.Equal(t,
		filepath.Join("C:", "VS", "VC", "Auxiliary", "Build", "vcvarsall.bat"),
		vs.VCVarsScript())
}
