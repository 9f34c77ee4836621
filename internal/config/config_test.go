package config

import (
	"strings"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"MODAL_TRAIN_URL":       "https://provider.example/train",
		"MODAL_CANCEL_URL":      "https://provider.example/cancel",
		"MODAL_KEY":             "key",
		"MODAL_SECRET":          "secret",
		"CF_R2_ACCOUNTID":       "acct",
		"AWS_ACCESS_KEY_ID":     "ak",
		"AWS_SECRET_ACCESS_KEY": "sk",
		"CF_R2_BUCKET_NAME":     "checkpoints",
		"AUTH_SECRET":           "auth",
		"ADMIN_SECRET":          "admin",
		"JOB_UPDATE_SECRET":     "hook",
	} {
		t.Setenv(k, v)
	}
}

func TestLoadFailsFastOnMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("MODAL_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error for missing MODAL_SECRET")
	}
	if !strings.Contains(err.Error(), "MODAL_SECRET") {
		t.Fatalf("error should name the missing variable, got: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.HTTPPort)
	}
	if cfg.MaxTrainBodyBytes != 10*1024*1024 {
		t.Fatalf("expected 10MiB body cap, got %d", cfg.MaxTrainBodyBytes)
	}
	if cfg.IdleReadTimeout != 0 {
		t.Fatalf("idle read timeout should default to disabled")
	}
}
