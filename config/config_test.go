package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// TestEffectiveCores checks the configured-to-effective clamp.
func TestEffectiveCores(t *testing.T) {
	hardware := runtime.NumCPU()

	tests := []struct {
		configured int
		expected   int
	}{
		{0, hardware},
		{1, 1},
		{hardware + 100, hardware},
	}

	for _, test := range tests {
		cfg := &Config{Flags: &Flags{Cores: test.configured}}
		if got := cfg.EffectiveCores(); got != test.expected {
			t.Errorf("EffectiveCores(%d): got %d, want %d", test.configured,
				got, test.expected)
		}
	}
}

// TestLoadConfig exercises defaults, config file parsing and CLI
// precedence.
func TestLoadConfig(t *testing.T) {
	tmpDir, err := ioutil.TempDir("", "copperd-config-test")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configFile := filepath.Join(tmpDir, "test.conf")
	content := "cores=2\nflushreorganizations=1\n"
	if err := ioutil.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := loadConfig([]string{
		"--configfile", configFile,
		"--datadir", filepath.Join(tmpDir, "data"),
		"--logdir", filepath.Join(tmpDir, "logs"),
		"--cores", "1",
	})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	// CLI options take precedence over the config file.
	if cfg.Cores != 1 {
		t.Errorf("Cores: got %d, want 1", cfg.Cores)
	}
	if !cfg.FlushReorganizations {
		t.Error("FlushReorganizations: not picked up from config file")
	}
	if cfg.MaxPoolDepth != defaultMaxPoolDepth {
		t.Errorf("MaxPoolDepth: got %d, want default %d", cfg.MaxPoolDepth,
			defaultMaxPoolDepth)
	}

	// A named config file that does not exist is an error.
	_, err = loadConfig([]string{"--configfile",
		filepath.Join(tmpDir, "missing.conf")})
	if err == nil {
		t.Error("loadConfig: missing config file not reported")
	}
}
