package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCheckpointPath(t *testing.T) {
	tests := []struct {
		variant string
		want    string
	}{
		{"mobilenetv3", "checkpoints/rvm_mobilenetv3.pth"},
		{"resnet50", "checkpoints/rvm_resnet50.pth"},
	}
	for _, tt := range tests {
		if got := CheckpointPath(tt.variant); got != tt.want {
			t.Errorf("CheckpointPath(%q) = %q, want %q", tt.variant, got, tt.want)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	eng := cfg.Engine()
	if eng.Variant != DefaultVariant || eng.Device != DefaultDevice {
		t.Errorf("Engine() = %+v, want variant %q device %q", eng, DefaultVariant, DefaultDevice)
	}
	if eng.Checkpoint != "checkpoints/rvm_mobilenetv3.pth" {
		t.Errorf("Checkpoint = %q", eng.Checkpoint)
	}
	if cfg.ScratchRetain() {
		t.Error("scratch spaces should be released by default")
	}
	if cfg.ScratchDir() != filepath.Join(cfg.DataDir(), "scratch") {
		t.Errorf("ScratchDir() = %q", cfg.ScratchDir())
	}
	if cfg.ObjectStorage().Enabled() {
		t.Error("object storage should be disabled by default")
	}
}

func TestLoad_VariantDrivesCheckpoint(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvVariant, "resnet50")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Engine().Checkpoint; got != "checkpoints/rvm_resnet50.pth" {
		t.Errorf("Checkpoint = %q, want checkpoints/rvm_resnet50.pth", got)
	}
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
  auth_token: from-file
data_dir: ` + dir + `
scratch:
  retain: true
  max_age: 2h
engine:
  variant: resnet50
  device: cpu
  timeout: 10m
fetch:
  max_attempts: 5
source:
  allowed_dirs: ["/srv/media", "/tmp"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(EnvPort, "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port() != 9100 {
		t.Errorf("Port() = %d, want env override 9100", cfg.Port())
	}
	if cfg.AuthToken() != "from-file" {
		t.Errorf("AuthToken() = %q", cfg.AuthToken())
	}
	if !cfg.ScratchRetain() {
		t.Error("ScratchRetain() = false, want true")
	}
	if cfg.ScratchMaxAge() != 2*time.Hour {
		t.Errorf("ScratchMaxAge() = %v", cfg.ScratchMaxAge())
	}
	eng := cfg.Engine()
	if eng.Device != "cpu" || eng.Timeout != 10*time.Minute {
		t.Errorf("Engine() = %+v", eng)
	}
	if eng.Checkpoint != "checkpoints/rvm_resnet50.pth" {
		t.Errorf("Checkpoint = %q", eng.Checkpoint)
	}
	if cfg.FetchAttempts() != 5 {
		t.Errorf("FetchAttempts() = %d", cfg.FetchAttempts())
	}
	if len(cfg.InputAllowedDirs()) != 2 {
		t.Errorf("InputAllowedDirs() = %v", cfg.InputAllowedDirs())
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvPort, "70000")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestLoad_InvalidRetain(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvScratchRetain, "sometimes")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unparsable retain flag")
	}
}

func TestLoad_AllowedDirsFromEnv(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvOutputAllowedDirs, " /a , ,/b")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := cfg.OutputAllowedDirs()
	if len(got) != 2 || got[0] != "/a" || got[1] != "/b" {
		t.Errorf("OutputAllowedDirs() = %v, want [/a /b]", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
