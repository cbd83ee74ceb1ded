package crucible

import (
	"bufio"
	"os"
	"strings"
)

// Config struct
type Config struct {
	Values map[string]string
}

// LoadConfig reads /etc/crucible.conf and applies CRUCIBLE_* env overrides
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge CRUCIBLE_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge CRUCIBLE_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "CRUCIBLE_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func InitConfig(cfg *Config) {
	Debug = cfg.Values["CRUCIBLE_DEBUG"] == "1"

	if url := cfg.Values["CRUCIBLE_TOOLS_URL"]; url != "" {
		toolsBucketURL = strings.TrimRight(url, "/")
		debugf("=> Using tools bucket override: %s\n", toolsBucketURL)
	}
}
