package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"MODELS_URL", "MODELS_DIR", "FACE_BACKEND", "FACE_MATCH_TOLERANCE",
		"FACE_DETECTION_INTERVAL", "FACE_CACHE_PATH", "WEB_PORT",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Recognition.Tolerance != 0.6 {
		t.Errorf("expected tolerance 0.6, got %v", cfg.Recognition.Tolerance)
	}
	if cfg.Recognition.DetectionInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms detection interval, got %v", cfg.Recognition.DetectionInterval)
	}
	if cfg.Models.Backend != "dlib" {
		t.Errorf("expected dlib backend, got %q", cfg.Models.Backend)
	}
	if len(cfg.Models.Files.All()) != 3 {
		t.Errorf("expected 3 model files, got %v", cfg.Models.Files.All())
	}
	if cfg.Cache.Path != "face-cache.db" {
		t.Errorf("expected default cache path, got %q", cfg.Cache.Path)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Web.Port)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FACE_MATCH_TOLERANCE", "0.45")
	t.Setenv("FACE_DETECTION_INTERVAL", "250")
	t.Setenv("FACE_BACKEND", "remote")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("ATTENDANCE_AUTO_MARK", "off")

	cfg := Load()

	if cfg.Recognition.Tolerance != 0.45 {
		t.Errorf("expected tolerance 0.45, got %v", cfg.Recognition.Tolerance)
	}
	if cfg.Recognition.DetectionInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.Recognition.DetectionInterval)
	}
	if cfg.Models.Backend != "remote" {
		t.Errorf("expected remote backend, got %q", cfg.Models.Backend)
	}
	if len(cfg.Web.AllowedOrigins) != 2 {
		t.Errorf("expected 2 origins, got %v", cfg.Web.AllowedOrigins)
	}
	if cfg.Recognition.AutoMark {
		t.Error("expected auto mark disabled")
	}
}

func TestEnvHelpers_InvalidValuesFallBack(t *testing.T) {
	tests := []struct {
		name string
		run  func() bool
	}{
		{"negative int", func() bool {
			t.Setenv("X_INT", "-3")
			return envInt("X_INT", 7) == 7
		}},
		{"garbage float", func() bool {
			t.Setenv("X_FLOAT", "abc")
			return envFloat("X_FLOAT", 0.6) == 0.6
		}},
		{"zero duration", func() bool {
			t.Setenv("X_DUR", "0s")
			return envDuration("X_DUR", time.Second) == time.Second
		}},
		{"unknown bool", func() bool {
			t.Setenv("X_BOOL", "maybe")
			return envBool("X_BOOL", true)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.run() {
				t.Errorf("expected fallback to default")
			}
		})
	}
}
