package config

import (
	"fmt"
	"os"
	"time"
)

// RBACConfig configures the permission gate.
type RBACConfig struct {
	// JWKSURL points at the identity provider's key set. When set, bearer
	// tokens are signature-verified; when empty, claims are extracted
	// without verification and a warning is logged at startup.
	JWKSURL string `yaml:"jwks_url,omitempty" json:"jwks_url,omitempty"`

	// Issuer and Audience are validated when present.
	Issuer   string `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty"`

	// PermissionTTL bounds cached permission sets.
	PermissionTTL time.Duration `yaml:"permission_ttl,omitempty" json:"permission_ttl,omitempty"`

	// FailClosed denies access when the permission backend is
	// unreachable. Leave it alone unless you are debugging locally.
	FailClosed *bool `yaml:"fail_closed,omitempty" json:"fail_closed,omitempty"`
}

// SetDefaults applies default values to RBACConfig.
func (c *RBACConfig) SetDefaults() {
	if c.JWKSURL == "" {
		c.JWKSURL = os.Getenv("JWKS_URL")
	}
	if c.PermissionTTL == 0 {
		c.PermissionTTL = 15 * time.Minute
	}
	if c.FailClosed == nil {
		c.FailClosed = BoolPtr(true)
	}
}

// Validate checks the RBAC configuration.
func (c *RBACConfig) Validate() error {
	if c.PermissionTTL <= 0 {
		return fmt.Errorf("permission_ttl must be positive")
	}
	return nil
}
