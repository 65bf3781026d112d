package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_NoFile(t *testing.T) {
	log := slog.Default()
	cfg, path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
	if cfg.Retrain.Threshold != 50 {
		t.Errorf("default retrain threshold: got %d, want 50", cfg.Retrain.Threshold)
	}
	if cfg.Model.Dimensions != 768 {
		t.Errorf("default dimensions: got %d, want 768", cfg.Model.Dimensions)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
store:
  db_path: /data/qa.db
model:
  endpoint: http://model.internal:8501
  dimensions: 384
retrain:
  threshold: 25
  min_interval: 30m
  sweep_interval: 24h
  auto_enabled: false
server:
  host: 0.0.0.0
  port: 9090
logging:
  level: debug
  format: text
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that would shadow the YAML values.
	envKeys := []string{
		"QASERVE_DB", "MODEL_ENDPOINT", "MODEL_DIMENSIONS",
		"RETRAIN_THRESHOLD", "RETRAIN_MIN_INTERVAL", "RETRAIN_SWEEP_INTERVAL",
		"RETRAIN_AUTO_ENABLED", "QASERVE_HOST", "QASERVE_PORT",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	cfg, loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	if cfg.Store.DBPath != "/data/qa.db" {
		t.Errorf("db_path: got %q", cfg.Store.DBPath)
	}
	if cfg.Model.Endpoint != "http://model.internal:8501" {
		t.Errorf("endpoint: got %q", cfg.Model.Endpoint)
	}
	if cfg.Model.Dimensions != 384 {
		t.Errorf("dimensions: got %d", cfg.Model.Dimensions)
	}
	if cfg.Retrain.Threshold != 25 {
		t.Errorf("threshold: got %d", cfg.Retrain.Threshold)
	}
	if cfg.Retrain.MinInterval.Std() != 30*time.Minute {
		t.Errorf("min_interval: got %v", cfg.Retrain.MinInterval.Std())
	}
	if cfg.Retrain.SweepInterval.Std() != 24*time.Hour {
		t.Errorf("sweep_interval: got %v", cfg.Retrain.SweepInterval.Std())
	}
	if cfg.Retrain.AutoEnabled {
		t.Error("auto_enabled: got true, want false")
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9090 {
		t.Errorf("server: got %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
retrain:
  threshold: 25
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RETRAIN_THRESHOLD", "100")

	log := slog.Default()
	cfg, _, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Retrain.Threshold != 100 {
		t.Errorf("threshold: expected env override 100, got %d", cfg.Retrain.Threshold)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	if _, _, err := Load(cfgPath, log); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestDuration_BareSeconds(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
retrain:
  min_interval: 90
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RETRAIN_MIN_INTERVAL", "")
	os.Unsetenv("RETRAIN_MIN_INTERVAL")

	log := slog.Default()
	cfg, _, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Retrain.MinInterval.Std() != 90*time.Second {
		t.Errorf("bare integer duration: got %v, want 90s", cfg.Retrain.MinInterval.Std())
	}
}
