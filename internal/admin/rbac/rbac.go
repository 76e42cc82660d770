package rbac

import (
	"strings"
)

// Role represents a staff access tier.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleStaff  Role = "staff"
	RoleViewer Role = "viewer"
)

// Capability represents a discrete permission checked by the admin site.
type Capability string

const (
	// CapAdminSite gates every view mounted on the admin site.
	CapAdminSite Capability = "admin.site"
	// CapAdminAudit gates read-only audit pages.
	CapAdminAudit Capability = "admin.audit"
	// CapAdminSettings gates site-wide settings pages.
	CapAdminSettings Capability = "admin.settings"
)

// capabilityRoles maps each capability to the roles permitted to access it.
var capabilityRoles = map[Capability]Roles{
	CapAdminSite:     {RoleAdmin, RoleStaff},
	CapAdminAudit:    {RoleAdmin, RoleStaff, RoleViewer},
	CapAdminSettings: {RoleAdmin},
}

// Roles captures a list of roles and exposes intersection checks used for RBAC evaluation.
type Roles []Role

// Has returns true if the provided role exists in the set.
func (rs Roles) Has(role Role) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// Intersects returns true if any role in the candidate slice is also present in the set.
func (rs Roles) Intersects(candidate Roles) bool {
	for _, role := range candidate {
		if rs.Has(role) {
			return true
		}
	}
	return false
}

// NormaliseRoles converts raw role strings into canonical Role values.
func NormaliseRoles(raw []string) Roles {
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[Role]struct{}, len(raw))
	roles := make(Roles, 0, len(raw))
	for _, val := range raw {
		role := Role(strings.ToLower(strings.TrimSpace(val)))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	return roles
}

// HasCapability reports whether the provided roles grant access to the capability.
// Admin users implicitly possess every defined capability.
func HasCapability(userRoles []string, capability Capability) bool {
	if capability == "" {
		return true
	}
	allowed, ok := capabilityRoles[capability]
	if !ok || len(allowed) == 0 {
		return false
	}
	roles := NormaliseRoles(userRoles)
	if roles.Has(RoleAdmin) {
		return true
	}
	return allowed.Intersects(roles)
}

// IsStaff reports whether the roles are allowed onto the admin site at all.
func IsStaff(userRoles []string) bool {
	return HasCapability(userRoles, CapAdminSite)
}
