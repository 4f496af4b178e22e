package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rzbill/lambdeploy/internal/config"
	"github.com/rzbill/lambdeploy/pkg/cli/format"
	"github.com/rzbill/lambdeploy/pkg/types"
	"github.com/rzbill/lambdeploy/pkg/utils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var starterKeys = []string{"DB_HOST", "DB_USERNAME", "DB_PASSWORD", "DB_NAME"}

// starterConfig is the file init writes. Durations are strings so the file
// reads "10m" rather than nanoseconds.
type starterConfig struct {
	Service    string                   `yaml:"service"`
	Region     string                   `yaml:"region"`
	Transport  string                   `yaml:"transport"`
	Source     string                   `yaml:"source"`
	EnvFile    string                   `yaml:"env_file"`
	Required   []string                 `yaml:"required"`
	HealthPath string                   `yaml:"health_path"`
	Function   config.Function          `yaml:"function"`
	Bundle     *config.Bundle           `yaml:"bundle,omitempty"`
	Image      *config.Image            `yaml:"image,omitempty"`
	Timeouts   map[string]string        `yaml:"timeouts"`
	Targets    map[string]config.Target `yaml:"targets"`
}

func starter(service, region string, transport types.Transport) starterConfig {
	d := config.Default()
	sc := starterConfig{
		Service:    service,
		Region:     region,
		Transport:  string(transport),
		Source:     d.Source,
		EnvFile:    d.EnvFile,
		Required:   starterKeys,
		HealthPath: d.HealthPath,
		Function:   d.Function,
		Timeouts: map[string]string{
			"check":   d.Timeouts.Check.String(),
			"build":   d.Timeouts.Build.String(),
			"publish": d.Timeouts.Publish.String(),
			"status":  d.Timeouts.Status.String(),
		},
		Targets: map[string]config.Target{
			"dev":  {EnvFile: ".env"},
			"prod": {EnvFile: ".env.prod", Alias: "live"},
		},
	}
	if transport == types.TransportImage {
		img := d.Image
		img.Repository = service
		sc.Image = &img
		sc.Function.Handler = ""
		sc.Function.Runtime = ""
	} else {
		b := d.Bundle
		sc.Bundle = &b
	}
	return sc
}

func envExample(keys []string) string {
	var b strings.Builder
	b.WriteString("# Copy to .env and fill in. One KEY=VALUE per line; no quoting.\n")
	for _, k := range keys {
		b.WriteString(k + "=\n")
	}
	return b.String()
}

func newInitCmd(g *globalOptions) *cobra.Command {
	var (
		dir       string
		service   string
		region    string
		transport string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter lambdeploy.yaml and .env.example",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := types.ParseTransport(transport)
			if err != nil {
				return types.WrapError(types.KindConfigIncomplete, err, "--transport")
			}
			if service == "" {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return err
				}
				service = filepath.Base(abs)
			}
			if err := utils.ValidateFunctionName(service + "-dev"); err != nil {
				return types.WrapError(types.KindConfigIncomplete, err, "--service")
			}

			data, err := yaml.Marshal(starter(service, region, t))
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			files := []struct {
				name string
				data []byte
			}{
				{config.FileName + ".yaml", data},
				{".env.example", []byte(envExample(starterKeys))},
			}
			for _, f := range files {
				path := filepath.Join(dir, f.name)
				if err := utils.WriteNew(path, f.data, force); err != nil {
					return types.WrapError(types.KindConfigIncomplete, err, "write %s (use --force to overwrite)", f.name)
				}
				fmt.Fprintf(g.stdout, "%s wrote %s\n", format.StatusSymbol(true), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")
	cmd.Flags().StringVar(&service, "service", "", "service name (default is the directory name)")
	cmd.Flags().StringVar(&region, "region", "us-east-1", "AWS region")
	cmd.Flags().StringVar(&transport, "transport", string(types.TransportBundle), "bundle or image")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}
