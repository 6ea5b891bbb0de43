package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"magnus/internal/config"
)

func TestDefaultMatchesTemplate(t *testing.T) {
	cfg := config.Default()
	s := cfg.Workflow.Scheduling
	if s.ShoppingDaysBefore != 3 || s.PreparationDaysBefore != 2 || s.DeliveryDaysBefore != 1 || s.CookingHoursBefore != 6 {
		t.Fatalf("unexpected default offsets: %+v", s)
	}
	if !cfg.Workflow.TaskGeneration.Enabled {
		t.Fatalf("task generation should default on")
	}
	if !cfg.Workflow.Notifications.Enabled {
		t.Fatalf("notifications should default on")
	}
	if len(cfg.Webhooks) != 0 {
		t.Fatalf("expected no default webhooks")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("default template invalid: %v", err)
	}
	if cfg.Workflow.Scheduling.ShoppingDaysBefore != 3 {
		t.Fatalf("template parse mismatch")
	}
}

func TestFromYAMLValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"negative offset", "workflow:\n  scheduling:\n    shopping_days_before: -1\n"},
		{"webhook without name", "webhooks:\n  - url: https://example.com/hook\n"},
		{"webhook without url", "webhooks:\n  - name: hook\n"},
		{"not yaml", "{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := config.FromYAML([]byte(tc.yaml)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFromYAMLWebhooks(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`workflow:
  scheduling:
    shopping_days_before: 5
webhooks:
  - name: crm
    url: https://example.com/hook
    secret: s3cret
    actions: [STATUS_CHANGE, APPROVE]
    timeout_seconds: 3
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Workflow.Scheduling.ShoppingDaysBefore != 5 {
		t.Fatalf("offset not applied")
	}
	if len(cfg.Webhooks) != 1 {
		t.Fatalf("expected one webhook")
	}
	wh := cfg.Webhooks[0]
	if wh.Name != "crm" || wh.URL != "https://example.com/hook" || wh.TimeoutSeconds != 3 {
		t.Fatalf("webhook fields mismatch: %+v", wh)
	}
	if len(wh.Actions) != 2 {
		t.Fatalf("expected two actions")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config for missing file")
	}

	if err := os.WriteFile(filepath.Join(dir, "magnus.yml"), []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg == nil || cfg.Workflow.Scheduling.DeliveryDaysBefore != 1 {
		t.Fatalf("unexpected loaded config")
	}
}
