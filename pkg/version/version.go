// Package version implements the semantic-versioning compatibility
// rules an operator node uses to decide whether it should keep running
// against a given protocol configuration.
package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Current is the build's own version, overridden at link time with
// -ldflags "-X github.com/certen/independant-validator/pkg/version.Current=1.2.3".
var Current = "0.0.0-dev"

// Compatibility classifies how a node's version relates to a required one.
type Compatibility int

const (
	Equal Compatibility = iota
	NewerCompatible
	OlderCompatible
	Incompatible
)

func (c Compatibility) String() string {
	switch c {
	case Equal:
		return "equal"
	case NewerCompatible:
		return "newer-compatible"
	case OlderCompatible:
		return "older-compatible"
	case Incompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

// CheckCompatibility compares a node's version against a protocol's
// required version.
//
// For required versions with major 0 (unstable API), the minor version
// must match exactly. For required versions with major >= 1, only the
// major version must match. Within a matching group, a node newer than
// required is NewerCompatible, older is OlderCompatible.
func CheckCompatibility(nodeVersion, requiredVersion string) (Compatibility, error) {
	node, err := semver.NewVersion(nodeVersion)
	if err != nil {
		return Incompatible, fmt.Errorf("version: invalid node version %q: %w", nodeVersion, err)
	}
	required, err := semver.NewVersion(requiredVersion)
	if err != nil {
		return Incompatible, fmt.Errorf("version: invalid required version %q: %w", requiredVersion, err)
	}

	if node.Equal(required) {
		return Equal, nil
	}

	var inSameGroup bool
	if required.Major() == 0 {
		inSameGroup = node.Major() == 0 && node.Minor() == required.Minor()
	} else {
		inSameGroup = node.Major() == required.Major()
	}
	if !inSameGroup {
		return Incompatible, nil
	}

	if node.GreaterThan(required) {
		return NewerCompatible, nil
	}
	return OlderCompatible, nil
}

// ProtocolConfig is the subset of the on-chain protocol configuration
// version.go needs; satisfied by pkg/chainclient's ProtocolConfig client.
type ProtocolConfig interface {
	NodeVersion() (string, error)
}

// Logger is the minimal logging surface version.go writes through,
// satisfied by the standard library's *log.Logger.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Validate fetches the protocol's required node version and checks the
// running binary against it. An empty requirement disables enforcement.
// Incompatible versions return an error naming the upgrade command;
// OlderCompatible is logged as a warning but does not fail.
func Validate(cfg ProtocolConfig, logger Logger) error {
	required, err := cfg.NodeVersion()
	if err != nil {
		return fmt.Errorf("version: fetching required node version: %w", err)
	}
	required = strings.TrimSpace(required)

	if required == "" {
		logger.Printf("node version %s (no protocol requirement)", Current)
		return nil
	}

	compat, err := CheckCompatibility(Current, required)
	if err != nil {
		return err
	}

	upgradeCmd := fmt.Sprintf("docker pull ghcr.io/nillionnetwork/blacklight-node/blacklight_node:%s", required)

	switch compat {
	case Equal:
		logger.Printf("node version %s matches protocol requirement %s", Current, required)
		return nil
	case NewerCompatible:
		logger.Printf("node version %s is newer and compatible with protocol requirement %s", Current, required)
		return nil
	case OlderCompatible:
		logger.Printf("WARNING: node version %s is older than recommended %s; consider upgrading (%s)", Current, required, upgradeCmd)
		return nil
	default:
		logger.Printf("ERROR: node version %s is incompatible with protocol requirement %s; upgrade required (%s)", Current, required, upgradeCmd)
		return fmt.Errorf("version: node version %s is incompatible with required %s, upgrade with: %s", Current, required, upgradeCmd)
	}
}
