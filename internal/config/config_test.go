package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ibeckermayer/newsdigest/internal/types"
)

func TestDefaultSlots(t *testing.T) {
	cfg := Default()
	if got := cfg.DefaultSlot(); got != "morning" {
		t.Fatalf("expected morning default slot, got %q", got)
	}
	if !cfg.HasSlot("evening") || cfg.HasSlot("night") {
		t.Fatalf("unexpected slot membership")
	}
	if cfg.Pipeline.Retries != 2 || cfg.Pipeline.RetryDelay != 5*time.Minute {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Pipeline)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[pipeline]
retries = 1
retry_delay = "30s"

[pipeline.stages.summarize]
retries = 4

[[schedule.slots]]
name = "early"
time = "06:30"

[[schedule.slots]]
name = "late"
time = "21:00"

[recipients]
allow_list = ["a@x.com"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("NEWSDIGEST_TOKEN_SECRET", "s3cret")
	t.Setenv("NEWSDIGEST_RECIPIENTS", "b@x.com,c@x.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.Retries != 1 || cfg.Pipeline.RetryDelay != 30*time.Second {
		t.Fatalf("unexpected pipeline config: %+v", cfg.Pipeline)
	}
	if o := cfg.Pipeline.Stages["summarize"]; o.Retries == nil || *o.Retries != 4 {
		t.Fatalf("expected summarize override, got %+v", o)
	}
	if cfg.DefaultSlot() != types.Slot("early") {
		t.Fatalf("expected early default slot, got %q", cfg.DefaultSlot())
	}
	if cfg.Token.Secret != "s3cret" {
		t.Fatalf("expected secret from env")
	}
	if strings.Join(cfg.Recipients.AllowList, ",") != "b@x.com,c@x.com" {
		t.Fatalf("expected env allow list, got %v", cfg.Recipients.AllowList)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestValidateReportsProblems(t *testing.T) {
	cfg := Default()
	cfg.Summarizer.Provider = "mystery"
	cfg.Schedule.Slots = append(cfg.Schedule.Slots, SlotConfig{Name: "morning", Time: "25:99"})

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"token.secret", "mystery", "duplicated", "invalid time"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Token.Secret = "abc"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Token.Secret != "abc" || loaded.Store.MaxItems != cfg.Store.MaxItems {
		t.Fatalf("round trip mismatch: %+v", loaded.Store)
	}
}
