package types

import (
	"fmt"
	"strings"
)

// Transport selects how an artifact reaches the function.
type Transport string

const (
	// TransportBundle uploads a zip bundle as the function code.
	TransportBundle Transport = "bundle"
	// TransportImage pushes a container image to a registry and points the
	// function at it.
	TransportImage Transport = "image"
)

// Capabilities is what a transport needs from the environment.
type Capabilities struct {
	RequiredTools     []Tool
	NeedsDockerDaemon bool
	NeedsRegistry     bool
	PackageType       string // Lambda package type: Zip or Image
}

// Tool is an external executable and the argument used to prove it runs.
type Tool struct {
	Name        string
	VersionArgs []string
}

// ParseTransport parses a transport name.
func ParseTransport(s string) (Transport, error) {
	switch Transport(strings.ToLower(strings.TrimSpace(s))) {
	case TransportBundle, "zip", "":
		return TransportBundle, nil
	case TransportImage, "container", "docker":
		return TransportImage, nil
	default:
		return "", fmt.Errorf("unknown transport %q (want bundle or image)", s)
	}
}

// Capabilities returns the capability set for the transport.
func (t Transport) Capabilities() Capabilities {
	switch t {
	case TransportImage:
		return Capabilities{
			RequiredTools:     []Tool{{Name: "docker", VersionArgs: []string{"--version"}}},
			NeedsDockerDaemon: true,
			NeedsRegistry:     true,
			PackageType:       "Image",
		}
	default:
		return Capabilities{
			RequiredTools: []Tool{
				{Name: "node", VersionArgs: []string{"--version"}},
				{Name: "npm", VersionArgs: []string{"--version"}},
			},
			PackageType: "Zip",
		}
	}
}
