package types

import (
	"fmt"
	"time"
)

// DeploymentConfig is an ordered, read-only KEY=VALUE mapping loaded from an
// environment file.
type DeploymentConfig struct {
	keys   []string
	values map[string]string
}

// NewDeploymentConfig builds a config from pairs in declaration order. A
// repeated key keeps its first position and takes the last value.
func NewDeploymentConfig(pairs ...[2]string) *DeploymentConfig {
	c := &DeploymentConfig{values: make(map[string]string, len(pairs))}
	for _, p := range pairs {
		if _, ok := c.values[p[0]]; !ok {
			c.keys = append(c.keys, p[0])
		}
		c.values[p[0]] = p[1]
	}
	return c
}

// Keys returns the keys in declaration order.
func (c *DeploymentConfig) Keys() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Get returns the value for key.
func (c *DeploymentConfig) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, ok := c.values[key]
	return v, ok
}

// Len returns the number of keys.
func (c *DeploymentConfig) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Map returns a copy of the pairs, suitable for a function environment.
func (c *DeploymentConfig) Map() map[string]string {
	out := make(map[string]string, c.Len())
	if c == nil {
		return out
	}
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Missing returns the required keys that are absent or empty, in the order
// they were asked for.
func (c *DeploymentConfig) Missing(required ...string) []string {
	var missing []string
	for _, k := range required {
		if v, ok := c.Get(k); !ok || v == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// Export calls setenv for every pair in declaration order.
func (c *DeploymentConfig) Export(setenv func(key, value string) error) error {
	for _, k := range c.Keys() {
		if err := setenv(k, c.values[k]); err != nil {
			return fmt.Errorf("export %s: %w", k, err)
		}
	}
	return nil
}

// DeploymentTarget names a remote environment and the function that backs it.
type DeploymentTarget struct {
	Name         string `json:"name"`
	FunctionName string `json:"function_name"`
	Region       string `json:"region"`
	Alias        string `json:"alias,omitempty"`
	// APIName is the API Gateway name used for URL discovery.
	APIName string `json:"api_name,omitempty"`
}

func (t DeploymentTarget) String() string {
	return fmt.Sprintf("%s (%s in %s)", t.Name, t.FunctionName, t.Region)
}

// Artifact is the output of one build, consumed by one publish.
type Artifact struct {
	Transport Transport `json:"transport"`
	// Path is the zip file for bundle artifacts.
	Path string `json:"path,omitempty"`
	// ImageRef is registry/repository:tag for image artifacts. Before
	// publishing it is the local tag.
	ImageRef string `json:"image_ref,omitempty"`
	// Digest is the sha256 of the zip or the image ID.
	Digest    string    `json:"digest"`
	BuiltAt   time.Time `json:"built_at"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
}

// Location returns the transport boundary value: a path or an image reference.
func (a Artifact) Location() string {
	if a.Transport == TransportImage {
		return a.ImageRef
	}
	return a.Path
}

// DeploymentResult is the outcome surfaced to the operator.
type DeploymentResult struct {
	RunID        string    `json:"run_id"`
	Target       string    `json:"target"`
	Success      bool      `json:"success"`
	Stage        Stage     `json:"stage"`
	FunctionName string    `json:"function_name"`
	FunctionARN  string    `json:"function_arn,omitempty"`
	Version      string    `json:"version,omitempty"`
	URL          string    `json:"url,omitempty"`
	Health       Health    `json:"health"`
	State        string    `json:"state,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Artifact     string    `json:"artifact,omitempty"`
	Messages     []string  `json:"messages,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// AddMessage appends a diagnostic line.
func (r *DeploymentResult) AddMessage(format string, args ...interface{}) {
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}
