package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models magnus.yml.
type Config struct {
	Workflow struct {
		Scheduling struct {
			ShoppingDaysBefore    int `yaml:"shopping_days_before"`
			PreparationDaysBefore int `yaml:"preparation_days_before"`
			DeliveryDaysBefore    int `yaml:"delivery_days_before"`
			CookingHoursBefore    int `yaml:"cooking_hours_before"`
		} `yaml:"scheduling"`
		TaskGeneration struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"task_generation"`
		Notifications struct {
			Enabled         bool `yaml:"enabled"`
			OnTaskGenerated bool `yaml:"on_task_generated"`
			OnStatusChange  bool `yaml:"on_status_change"`
			OnConflict      bool `yaml:"on_conflict"`
		} `yaml:"notifications"`
	} `yaml:"workflow"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Actions        []string `yaml:"actions"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with mg config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	s := c.Workflow.Scheduling
	if s.ShoppingDaysBefore < 0 {
		return fmt.Errorf("workflow.scheduling.shopping_days_before must be >= 0")
	}
	if s.PreparationDaysBefore < 0 {
		return fmt.Errorf("workflow.scheduling.preparation_days_before must be >= 0")
	}
	if s.DeliveryDaysBefore < 0 {
		return fmt.Errorf("workflow.scheduling.delivery_days_before must be >= 0")
	}
	if s.CookingHoursBefore < 0 {
		return fmt.Errorf("workflow.scheduling.cooking_hours_before must be >= 0")
	}
	for i, wh := range c.Webhooks {
		if wh.Name == "" {
			return fmt.Errorf("webhooks[%d].name is required", i)
		}
		if wh.URL == "" {
			return fmt.Errorf("webhook %s has empty url", wh.Name)
		}
		for _, action := range wh.Actions {
			if action == "" {
				return fmt.Errorf("webhook %s has empty action", wh.Name)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "magnus.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workflow:
  scheduling:
    shopping_days_before: 3
    preparation_days_before: 2
    delivery_days_before: 1
    cooking_hours_before: 6

  task_generation:
    enabled: true

  notifications:
    enabled: true
    on_task_generated: true
    on_status_change: true
    on_conflict: true

webhooks: []
`
