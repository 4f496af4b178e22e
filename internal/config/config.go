package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/types"
	"github.com/rzbill/lambdeploy/pkg/utils"
	"github.com/spf13/viper"
)

// FileName is the base name of the project configuration file.
const FileName = "lambdeploy"

// EnvPrefix prefixes environment overrides, e.g. LAMBDEPLOY_REGION.
const EnvPrefix = "LAMBDEPLOY"

type Function struct {
	Runtime      string `yaml:"runtime" mapstructure:"runtime"`
	Handler      string `yaml:"handler" mapstructure:"handler"`
	MemoryMB     int32  `yaml:"memory" mapstructure:"memory"`
	TimeoutSec   int32  `yaml:"timeout" mapstructure:"timeout"`
	RoleARN      string `yaml:"role_arn" mapstructure:"role_arn"`
	Architecture string `yaml:"architecture" mapstructure:"architecture"`
	// URL ensures a public Function URL exists after publishing.
	URL bool `yaml:"url" mapstructure:"url"`
	// LogRetentionDays is applied to /aws/lambda/<fn>; 0 leaves it alone.
	LogRetentionDays int32 `yaml:"log_retention_days" mapstructure:"log_retention_days"`
}

type Bundle struct {
	BuildCommand []string `yaml:"build_command" mapstructure:"build_command"`
	OutputDir    string   `yaml:"output_dir" mapstructure:"output_dir"`
	Entry        string   `yaml:"entry,omitempty" mapstructure:"entry"`
	Include      []string `yaml:"include" mapstructure:"include"`
}

type Image struct {
	Dockerfile string `yaml:"dockerfile" mapstructure:"dockerfile"`
	Repository string `yaml:"repository" mapstructure:"repository"`
	// BuildTarget is the multi-stage target to stop at; empty builds the last stage.
	BuildTarget string `yaml:"build_target" mapstructure:"build_target"`
	Platform    string `yaml:"platform" mapstructure:"platform"`
	Tag         string `yaml:"tag" mapstructure:"tag"`
	// Registry overrides the ECR host derived from the account and region.
	Registry string `yaml:"registry" mapstructure:"registry"`
}

type Timeouts struct {
	Check   time.Duration `yaml:"check" mapstructure:"check"`
	Build   time.Duration `yaml:"build" mapstructure:"build"`
	Publish time.Duration `yaml:"publish" mapstructure:"publish"`
	Status  time.Duration `yaml:"status" mapstructure:"status"`
}

type Retry struct {
	Attempts int           `yaml:"attempts" mapstructure:"attempts"`
	Backoff  time.Duration `yaml:"backoff" mapstructure:"backoff"`
}

type Target struct {
	FunctionName string `yaml:"function_name" mapstructure:"function_name"`
	Region       string `yaml:"region" mapstructure:"region"`
	Alias        string `yaml:"alias" mapstructure:"alias"`
	EnvFile      string `yaml:"env_file" mapstructure:"env_file"`
}

// Config is the one project configuration. Transport selects which of the
// Bundle and Image sections apply.
type Config struct {
	Service    string            `yaml:"service" mapstructure:"service"`
	Region     string            `yaml:"region" mapstructure:"region"`
	Transport  string            `yaml:"transport" mapstructure:"transport"`
	Source     string            `yaml:"source" mapstructure:"source"`
	EnvFile    string            `yaml:"env_file" mapstructure:"env_file"`
	Required   []string          `yaml:"required" mapstructure:"required"`
	HealthPath string            `yaml:"health_path" mapstructure:"health_path"`
	StateDir   string            `yaml:"state_dir" mapstructure:"state_dir"`
	Function   Function          `yaml:"function" mapstructure:"function"`
	Bundle     Bundle            `yaml:"bundle" mapstructure:"bundle"`
	Image      Image             `yaml:"image" mapstructure:"image"`
	Timeouts   Timeouts          `yaml:"timeouts" mapstructure:"timeouts"`
	Retry      Retry             `yaml:"retry" mapstructure:"retry"`
	Targets    map[string]Target `yaml:"targets" mapstructure:"targets"`
	Log        log.Config        `yaml:"log" mapstructure:"log"`
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	return &Config{
		Service:    "your-app",
		Region:     "us-east-1",
		Transport:  string(types.TransportBundle),
		Source:     ".",
		EnvFile:    ".env",
		HealthPath: "/health",
		StateDir:   ".lambdeploy",
		Function: Function{
			Runtime:      "nodejs20.x",
			Handler:      "dist/main.handler",
			MemoryMB:     1024,
			TimeoutSec:   30,
			Architecture: "x86_64",
			URL:          true,
		},
		Bundle: Bundle{
			BuildCommand: []string{"npm", "run", "build"},
			OutputDir:    "dist",
			Include:      []string{"node_modules", "package.json"},
		},
		Image: Image{
			Dockerfile: "Dockerfile",
			Platform:   "linux/amd64",
		},
		Timeouts: Timeouts{
			Check:   30 * time.Second,
			Build:   10 * time.Minute,
			Publish: 10 * time.Minute,
			Status:  30 * time.Second,
		},
		Retry:   Retry{Attempts: 3, Backoff: 500 * time.Millisecond},
		Targets: map[string]Target{},
		Log:     *log.DefaultConfig(),
	}
}

// Load reads the configuration from path, or searches the working directory
// and $HOME/.lambdeploy when path is empty. A missing file is not an error;
// defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".lambdeploy"))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// A relative source is relative to the config file, not the caller.
	if used := v.ConfigFileUsed(); used != "" && !filepath.IsAbs(cfg.Source) {
		cfg.Source = filepath.Join(filepath.Dir(used), cfg.Source)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindDefaults registers scalar defaults so AutomaticEnv can override them.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service", cfg.Service)
	v.SetDefault("region", cfg.Region)
	v.SetDefault("transport", cfg.Transport)
	v.SetDefault("source", cfg.Source)
	v.SetDefault("env_file", cfg.EnvFile)
	v.SetDefault("health_path", cfg.HealthPath)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("function.role_arn", cfg.Function.RoleARN)
	v.SetDefault("image.repository", cfg.Image.Repository)
	v.SetDefault("image.tag", cfg.Image.Tag)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// Validate checks fields that every command depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service) == "" {
		return errors.New("config: service must be set")
	}
	if _, err := types.ParseTransport(c.Transport); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Retry.Attempts < 1 {
		c.Retry.Attempts = 1
	}
	for name := range c.Targets {
		if strings.TrimSpace(name) == "" {
			return errors.New("config: target names must not be empty")
		}
		if strings.Contains(name, "/") {
			return fmt.Errorf("config: target name %q must not contain '/'", name)
		}
	}
	return nil
}

// EntryFile is the file a bundle build must produce: bundle.entry, or the
// module named by function.handler ("dist/main.handler" is dist/main.js).
func (c *Config) EntryFile() string {
	if c.Bundle.Entry != "" {
		return c.Bundle.Entry
	}
	h := c.Function.Handler
	if i := strings.LastIndex(h, "."); i > 0 {
		return h[:i] + ".js"
	}
	return ""
}

// TransportKind returns the parsed transport tag.
func (c *Config) TransportKind() types.Transport {
	t, _ := types.ParseTransport(c.Transport)
	return t
}

// ResolveTarget builds the immutable DeploymentTarget for name. Unlisted
// targets are allowed and get derived names.
func (c *Config) ResolveTarget(name string) (types.DeploymentTarget, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.DeploymentTarget{}, errors.New("target name must not be empty")
	}
	// Target names are history key segments.
	if strings.Contains(name, "/") {
		return types.DeploymentTarget{}, fmt.Errorf("target name %q must not contain '/'", name)
	}
	t := c.Targets[name]

	return types.DeploymentTarget{
		Name:         name,
		FunctionName: utils.PickFirstNonEmpty(t.FunctionName, fmt.Sprintf("%s-%s", c.Service, name)),
		Region:       utils.PickFirstNonEmpty(t.Region, c.Region),
		Alias:        t.Alias,
		APIName:      fmt.Sprintf("%s-%s", name, c.Service),
	}, nil
}

// EnvFileFor returns the environment file for a target, falling back to the
// project-wide one.
func (c *Config) EnvFileFor(target string) string {
	return utils.PickFirstNonEmpty(c.Targets[target].EnvFile, c.EnvFile)
}

// TargetNames returns the configured target names, sorted.
func (c *Config) TargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for n := range c.Targets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Repository returns the ECR repository name for image transport.
func (c *Config) Repository() string {
	if c.Image.Repository != "" {
		return c.Image.Repository
	}
	return c.Service
}
