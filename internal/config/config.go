package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models siteline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Roles struct {
		Catalog map[string]RoleEntry `yaml:"catalog"`
	} `yaml:"roles"`
	Capabilities struct {
		Evidence struct {
			Upload  []string `yaml:"upload"`
			Approve []string `yaml:"approve"`
		} `yaml:"evidence"`
		Buckets map[string][]string `yaml:"buckets"`
	} `yaml:"capabilities"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type RoleEntry struct {
	Description string `yaml:"description"`
}

type Webhook struct {
	ID     string   `yaml:"id"`
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sl project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "construction-site" {
		return fmt.Errorf("config.project.kind must be 'construction-site'")
	}
	if len(c.Capabilities.Buckets) == 0 {
		return fmt.Errorf("config.capabilities.buckets is required")
	}
	for bucket, roles := range c.Capabilities.Buckets {
		if bucket == "" {
			return fmt.Errorf("config.capabilities.buckets contains empty bucket key")
		}
		if len(roles) == 0 {
			return fmt.Errorf("bucket %s has no assigner roles", bucket)
		}
		for _, roleID := range roles {
			if roleID == "" {
				return fmt.Errorf("bucket %s has empty role id", bucket)
			}
			if len(c.Roles.Catalog) > 0 {
				if _, ok := c.Roles.Catalog[roleID]; !ok {
					return fmt.Errorf("bucket %s references unknown role %s", bucket, roleID)
				}
			}
		}
	}
	for _, roleID := range append(append([]string{}, c.Capabilities.Evidence.Upload...), c.Capabilities.Evidence.Approve...) {
		if roleID == "" {
			return fmt.Errorf("config.capabilities.evidence has empty role id")
		}
		if len(c.Roles.Catalog) > 0 {
			if _, ok := c.Roles.Catalog[roleID]; !ok {
				return fmt.Errorf("config.capabilities.evidence references unknown role %s", roleID)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.ID == "" {
			return fmt.Errorf("webhook %d has empty id", i)
		}
		if hook.URL == "" {
			return fmt.Errorf("webhook %s has empty url", hook.ID)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "siteline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
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

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "construction-site"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
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

const defaultTemplate = `project:
  id: %s
  kind: construction-site

roles:
  catalog:
    admin:
      description: "Site administration, full assignment rights"
    architect:
      description: "Design authority, approves evidence"
    engineer:
      description: "Technical supervision, approves evidence"
    foreman:
      description: "Crew lead, uploads evidence, assigns workers"
    worker:
      description: "Field crew member"

capabilities:
  evidence:
    upload: [foreman]
    approve: [engineer, architect]

  buckets:
    architects: [admin]
    engineers: [admin]
    foremen: [engineer, architect]
    workers: [foreman]
`
