package plugin

import (
	"fmt"
	"slices"
)

// IsolationPolicy governs which permissions a unit may hold. An empty policy
// allows everything.
type IsolationPolicy struct {
	Allowed []Permission `yaml:"allowed"`
	Denied  []Permission `yaml:"denied"`
}

// Merge fills empty lists from other.
func (p IsolationPolicy) Merge(other IsolationPolicy) IsolationPolicy {
	if len(p.Allowed) == 0 {
		p.Allowed = other.Allowed
	}
	if len(p.Denied) == 0 {
		p.Denied = other.Denied
	}
	return p
}

// IsolationStrategy enforces a policy when a unit is registered.
type IsolationStrategy interface {
	Validate(name string, permissions []Permission, policy IsolationPolicy) error
}

// PermissionCheck validates requested permissions against the lists only.
type PermissionCheck struct{}

// Validate implements IsolationStrategy.
func (PermissionCheck) Validate(name string, permissions []Permission, policy IsolationPolicy) error {
	for _, perm := range permissions {
		if slices.Contains(policy.Denied, perm) {
			return fmt.Errorf("capability %s: permission %s is denied", name, perm)
		}
		if len(policy.Allowed) > 0 && !slices.Contains(policy.Allowed, perm) {
			return fmt.Errorf("capability %s: permission %s not allowed", name, perm)
		}
	}
	return nil
}

// MergePolicies combines manifest defaults with a unit override.
func MergePolicies(defaults IsolationPolicy, override *IsolationPolicy) IsolationPolicy {
	if override == nil {
		return defaults
	}
	return override.Merge(defaults)
}
