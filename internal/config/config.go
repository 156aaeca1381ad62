package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"techdebtsim/internal/constants"
	"techdebtsim/internal/engine"
	"techdebtsim/internal/team"
)

const FileName = "techdebtsim.yml"

// Config models techdebtsim.yml.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Constants  struct {
		File      string             `yaml:"file"`
		Overrides map[string]float64 `yaml:"overrides"`
	} `yaml:"constants"`
	Leads     []LeadConfig `yaml:"leads"`
	Recording struct {
		Enabled       bool `yaml:"enabled"`
		SnapshotEvery int  `yaml:"snapshot_every"`
	} `yaml:"recording"`
	Server struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

type SimulationConfig struct {
	InitialDevelopers int                  `yaml:"initial_developers"`
	InitialUsers      float64              `yaml:"initial_users"`
	InitialQuality    float64              `yaml:"initial_quality"`
	StepsPerSecond    float64              `yaml:"steps_per_second"`
	MinStepsPerSecond float64              `yaml:"min_steps_per_second"`
	MaxStepsPerSecond float64              `yaml:"max_steps_per_second"`
	MaxHistory        int                  `yaml:"max_history"`
	SummaryWindow     int                  `yaml:"summary_window"`
	Seed              uint64               `yaml:"seed"`
	SeedProjects      []engine.SeedProject `yaml:"seed_projects"`
}

type LeadConfig struct {
	Name            string  `yaml:"name"`
	ExperienceLevel *float64 `yaml:"experience_level"`
	FeatureWeight   float64 `yaml:"feature_weight"`
	TechDebtWeight  float64 `yaml:"tech_debt_weight"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tds config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config describes a runnable simulation.
func (c *Config) Validate() error {
	s := c.Simulation
	if s.InitialDevelopers < 0 {
		return fmt.Errorf("simulation.initial_developers must be >= 0")
	}
	if s.InitialUsers < 0 {
		return fmt.Errorf("simulation.initial_users must be >= 0")
	}
	if s.InitialQuality < 0 || s.InitialQuality > 100 {
		return fmt.Errorf("simulation.initial_quality must be within [0,100]")
	}
	if s.MinStepsPerSecond <= 0 {
		return fmt.Errorf("simulation.min_steps_per_second must be > 0")
	}
	if s.MaxStepsPerSecond < s.MinStepsPerSecond {
		return fmt.Errorf("simulation.max_steps_per_second must be >= min_steps_per_second")
	}
	if s.StepsPerSecond < s.MinStepsPerSecond || s.StepsPerSecond > s.MaxStepsPerSecond {
		return fmt.Errorf("simulation.steps_per_second must be within [%g,%g]", s.MinStepsPerSecond, s.MaxStepsPerSecond)
	}
	if s.MaxHistory <= 0 {
		return fmt.Errorf("simulation.max_history must be > 0")
	}
	if s.SummaryWindow <= 0 {
		return fmt.Errorf("simulation.summary_window must be > 0")
	}
	for i, sp := range s.SeedProjects {
		if !sp.Type.Valid() {
			return fmt.Errorf("simulation.seed_projects[%d].type %q must be feature or tech_debt", i, sp.Type)
		}
		if sp.Impact < 0 {
			return fmt.Errorf("simulation.seed_projects[%d].impact must be >= 0", i)
		}
	}
	for key := range c.Constants.Overrides {
		if key == "" {
			return fmt.Errorf("constants.overrides contains an empty key")
		}
	}
	for i, l := range c.Leads {
		if l.ExperienceLevel != nil && (*l.ExperienceLevel < 0 || *l.ExperienceLevel > 100) {
			return fmt.Errorf("leads[%d].experience_level must be within [0,100]", i)
		}
		if l.FeatureWeight < 0 || l.TechDebtWeight < 0 {
			return fmt.Errorf("leads[%d] weights must be >= 0", i)
		}
	}
	if c.Recording.SnapshotEvery < 0 {
		return fmt.Errorf("recording.snapshot_every must be >= 0")
	}
	return nil
}

// Settings converts the simulation section into engine settings.
func (c *Config) Settings() engine.Settings {
	s := c.Simulation
	out := engine.Settings{
		InitialDevelopers: s.InitialDevelopers,
		InitialUsers:      s.InitialUsers,
		InitialQuality:    s.InitialQuality,
		StepsPerSecond:    s.StepsPerSecond,
		MinStepsPerSecond: s.MinStepsPerSecond,
		MaxStepsPerSecond: s.MaxStepsPerSecond,
		MaxHistory:        s.MaxHistory,
		SummaryWindow:     s.SummaryWindow,
		SeedProjects:      append([]engine.SeedProject(nil), s.SeedProjects...),
	}
	for _, l := range c.Leads {
		out.Leads = append(out.Leads, team.LeadOptions{
			Name:            l.Name,
			ExperienceLevel: l.ExperienceLevel,
			FeatureWeight:   l.FeatureWeight,
			TechDebtWeight:  l.TechDebtWeight,
		})
	}
	return out
}

// ApplyConstants loads the constants file, if any, then the inline overrides.
// Relative file paths resolve against workspace.
func (c *Config) ApplyConstants(workspace string, store *constants.Store) error {
	if c.Constants.File != "" {
		path := c.Constants.File
		if !filepath.IsAbs(path) && workspace != "" {
			path = filepath.Join(workspace, path)
		}
		if err := store.LoadFile(path); err != nil {
			return err
		}
	}
	if len(c.Constants.Overrides) > 0 {
		store.Merge(c.Constants.Overrides)
	}
	return nil
}

// OverrideKeys returns the inline override keys in sorted order.
func (c *Config) OverrideKeys() []string {
	keys := make([]string, 0, len(c.Constants.Overrides))
	for k := range c.Constants.Overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
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

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `simulation:
  initial_developers: 3
  initial_users: 1000
  initial_quality: 50
  steps_per_second: 2
  min_steps_per_second: 0.1
  max_steps_per_second: 10
  max_history: 250
  summary_window: 10
  # seed: 42
  seed_projects:
    - {type: feature, impact: 15}
    - {type: feature, impact: 12}
    - {type: tech_debt, impact: 8}
    - {type: feature, impact: 10}

constants:
  # file: constants.toml
  overrides: {}

# leads:
#   - name: Sarah Johnson
#     experience_level: 60
#     feature_weight: 0.6
#     tech_debt_weight: 0.4

recording:
  enabled: false
  snapshot_every: 1

server:
  addr: 127.0.0.1:8080
  # jwt_secret: change-me
`
