// Package envfile loads KEY=VALUE environment files into a DeploymentConfig.
//
// The format is deliberately minimal: one pair per line, blank lines and
// lines starting with '#' are ignored, and the value is the raw text after
// the first '=' up to the end of the line. There is no quoting or escaping.
package envfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/rzbill/lambdeploy/pkg/types"
	"github.com/rzbill/lambdeploy/pkg/utils"
)

// Load reads path and verifies every required key is present and non-empty.
func Load(path string, required ...string) (*types.DeploymentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.WrapError(types.KindConfigNotFound, err, "environment file %s not found", path)
		}
		return nil, types.WrapError(types.KindConfigNotFound, err, "read environment file %s", path)
	}

	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, types.WrapError(types.KindConfigIncomplete, err, "parse %s", path)
	}

	if missing := cfg.Missing(required...); len(missing) > 0 {
		return nil, types.NewError(types.KindConfigIncomplete,
			"%s is missing required keys: %s", path, strings.Join(missing, ", "))
	}
	return cfg, nil
}

// Parse reads pairs from r.
func Parse(r io.Reader) (*types.DeploymentConfig, error) {
	var pairs [][2]string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE", lineNo)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", lineNo)
		}
		pairs = append(pairs, [2]string{key, value})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return types.NewDeploymentConfig(pairs...), nil
}

// Exists reports whether path names a readable regular file. It is the
// local check run before any network probe.
func Exists(path string) error {
	if utils.IsDirectory(path) {
		return types.NewError(types.KindConfigNotFound, "environment file %s is a directory", path)
	}
	if _, err := os.Stat(path); err != nil {
		return types.WrapError(types.KindConfigNotFound, err, "environment file %s not found", path)
	}
	return nil
}

// Setenv is the exporter used by the CLI.
func Setenv(key, value string) error {
	return os.Setenv(key, value)
}
