// Package version holds the runtime version and the event protocol
// compatibility check applied at channel open.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is the runtime release version, overridable at build time with
// -ldflags "-X github.com/docent-ai/docent/version.Version=...".
var Version = "dev"

// ProtocolVersion is the event protocol version this server speaks.
const ProtocolVersion = "1.2.0"

// protocolRange accepts any client on the same major protocol version.
var protocolRange = mustConstraint(">= 1.0.0, < 2.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// CheckProtocol validates the client-announced protocol version. An empty
// announcement is accepted for clients predating negotiation. Incompatibility
// is a configuration fault: the caller must fail the channel terminally
// rather than retry.
func CheckProtocol(announced string) error {
	if announced == "" {
		return nil
	}
	v, err := semver.NewVersion(announced)
	if err != nil {
		return fmt.Errorf("malformed protocol version %q: %w", announced, err)
	}
	if !protocolRange.Check(v) {
		return fmt.Errorf("client protocol %s is incompatible with server protocol %s", announced, ProtocolVersion)
	}
	return nil
}
