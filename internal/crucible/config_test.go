package crucible

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigParsesFlatKeyValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.conf")
	content := `# comment
CRUCIBLE_TOOLS_URL = "https://mirror.example.com/clang"
CRUCIBLE_MIRROR_BUCKET=artifacts

malformed line without equals
CRUCIBLE_MIRROR_REGION='auto'
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.com/clang", cfg.Values["CRUCIBLE_TOOLS_URL"])
	assert.Equal(t, "artifacts", cfg.Values["CRUCIBLE_MIRROR_BUCKET"])
	assert.Equal(t, "auto", cfg.Values["CRUCIBLE_MIRROR_REGION"])
	assert.NotContains(t, cfg.Values, "malformed line without equals")
}

func TestLoadConfigMissingFileIsNotAnError(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	require.NoError(t, err)
	assert.NotNil(t, cfg.Values)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.conf")
	require.NoError(t, os.WriteFile(path, []byte("CRUCIBLE_MIRROR_BUCKET=from-file\n"), 0o644))
	t.Setenv("CRUCIBLE_MIRROR_BUCKET", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Values["CRUCIBLE_MIRROR_BUCKET"])
}

func TestInitConfigAppliesToolsURLOverride(t *testing.T) {
	oldURL := toolsBucketURL
	oldDebug := Debug
	t.Cleanup(func() {
		toolsBucketURL = oldURL
		Debug = oldDebug
	})

	InitConfig(&Config{Values: map[string]string{
		"CRUCIBLE_DEBUG":     "1",
		"CRUCIBLE_TOOLS_URL": "https://mirror.example.com/clang/",
	}})
	assert.True(t, Debug)
	assert.Equal(t, "https://mirror.example.com/clang", toolsBucketURL)
}
