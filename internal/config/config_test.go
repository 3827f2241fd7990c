package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loom/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if cfg.Segmenter.TargetSize != 1000 {
		t.Fatalf("expected default target size, got %d", cfg.Segmenter.TargetSize)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"

[segmenter]
target_size = 500
overlap = 50

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Segmenter.TargetSize != 500 || cfg.Segmenter.Overlap != 50 {
		t.Fatalf("unexpected segmenter config: %+v", cfg.Segmenter)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging values, got %+v", cfg.Logging)
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		t.Fatalf("expected absolute data dir, got %q", cfg.Paths.DataDir)
	}
}

func TestValidateRejectsBadSegmenter(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"overlap >= target", func(c *config.Config) { c.Segmenter.Overlap = c.Segmenter.TargetSize }, "overlap"},
		{"min > max", func(c *config.Config) { c.Segmenter.MinSize = c.Segmenter.MaxSize + 1 }, "min_size"},
		{"target > max", func(c *config.Config) { c.Segmenter.TargetSize = c.Segmenter.MaxSize + 1 }, "target_size"},
		{"bad ratio", func(c *config.Config) { c.Segmenter.MaxOverlapRatio = 1.5 }, "max_overlap_ratio"},
	}
	for _, tc := range cases {
		cfg := config.Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected %q in error, got %v", tc.name, tc.want, err)
		}
	}
}

func TestValidateRejectsRenewNotBelowLease(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.LeaseRenewInterval = cfg.Worker.LeaseSeconds
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when renew interval reaches lease duration")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[segmenter]") {
		t.Fatalf("expected sample to mention segmenter section, got %q", data)
	}
}
