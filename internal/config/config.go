package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config models verifika.yml.
type Config struct {
	Workflow struct {
		DeadlineDays         int `yaml:"deadline_days"`
		ManualEscalationDays int `yaml:"manual_escalation_days"`
		AutoEscalationDays   int `yaml:"auto_escalation_days"`
		ReminderHours        []int `yaml:"reminder_hours"`
	} `yaml:"workflow"`
	Comments struct {
		MaxDepth int `yaml:"max_depth"`
	} `yaml:"comments"`
	Sweep struct {
		IntervalMinutes int `yaml:"interval_minutes"`
	} `yaml:"sweep"`
	Notifications struct {
		EmailEndpoint string `yaml:"email_endpoint"`
		FrontendURL   string `yaml:"frontend_url"`
	} `yaml:"notifications"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run vf init or pass --workspace", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "verifika.yml")
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workflow.DeadlineDays <= 0 {
		return fmt.Errorf("workflow.deadline_days must be positive")
	}
	if c.Workflow.ManualEscalationDays <= 0 {
		return fmt.Errorf("workflow.manual_escalation_days must be positive")
	}
	if c.Workflow.AutoEscalationDays <= 0 {
		return fmt.Errorf("workflow.auto_escalation_days must be positive")
	}
	if c.Workflow.AutoEscalationDays > c.Workflow.ManualEscalationDays {
		return fmt.Errorf("workflow.auto_escalation_days must not exceed manual_escalation_days")
	}
	if len(c.Workflow.ReminderHours) == 0 {
		return fmt.Errorf("workflow.reminder_hours is required")
	}
	for _, h := range c.Workflow.ReminderHours {
		if h <= 0 {
			return fmt.Errorf("workflow.reminder_hours entries must be positive")
		}
	}
	if !sort.IsSorted(sort.Reverse(sort.IntSlice(c.Workflow.ReminderHours))) {
		return fmt.Errorf("workflow.reminder_hours must be in descending order")
	}
	if c.Comments.MaxDepth <= 0 {
		return fmt.Errorf("comments.max_depth must be positive")
	}
	if c.Sweep.IntervalMinutes <= 0 {
		return fmt.Errorf("sweep.interval_minutes must be positive")
	}
	return nil
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

// Default returns the built-in defaults: three working days to review, two for
// a manual escalation, one for an automatic one, reminders at 24/6/1 hours.
func Default() *Config {
	var cfg Config
	cfg.Workflow.DeadlineDays = 3
	cfg.Workflow.ManualEscalationDays = 2
	cfg.Workflow.AutoEscalationDays = 1
	cfg.Workflow.ReminderHours = []int{24, 6, 1}
	cfg.Comments.MaxDepth = 5
	cfg.Sweep.IntervalMinutes = 5
	return &cfg
}

// GenerateDefault returns default config YAML suitable for writing to disk.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `workflow:
  # Working days a reviewer has before a validation expires.
  deadline_days: 3
  # Grace window after a manual escalation.
  manual_escalation_days: 2
  # Grace window after an automatic (deadline-driven) escalation.
  auto_escalation_days: 1
  # Reminder thresholds in hours before the deadline, descending.
  reminder_hours: [24, 6, 1]

comments:
  max_depth: 5

sweep:
  interval_minutes: 5

notifications:
  # Optional HTTP endpoint email deliveries are POSTed to.
  email_endpoint: ""
  frontend_url: ""
`
