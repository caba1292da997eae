package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("SEARCH_DEBOUNCE_MS", "")
	t.Setenv("MINIO_USE_SSL", "")

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Errorf("expected default addr :8787, got %s", cfg.Addr)
	}
	if cfg.SearchDebounce != 300*time.Millisecond {
		t.Errorf("expected 300ms debounce, got %s", cfg.SearchDebounce)
	}
	if cfg.MinioUseSSL {
		t.Error("expected MinIO SSL to default to false")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("SEARCH_DEBOUNCE_MS", "150")
	t.Setenv("GRID_ROW_HEIGHT", "not-a-number")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.Addr != ":9000" {
		t.Errorf("expected :9000, got %s", cfg.Addr)
	}
	if cfg.SearchDebounce != 150*time.Millisecond {
		t.Errorf("expected 150ms debounce, got %s", cfg.SearchDebounce)
	}
	if cfg.RowHeight != 52 {
		t.Errorf("expected invalid row height to fall back to 52, got %d", cfg.RowHeight)
	}
	if !cfg.MinioUseSSL {
		t.Error("expected MinIO SSL to be enabled")
	}
}
