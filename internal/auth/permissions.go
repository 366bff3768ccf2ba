package auth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Permissions maps role -> []permission
type Permissions map[string][]string

const (
	PermPatientView   = "patient:view"
	PermPatientWrite  = "patient:write"
	PermPatientDelete = "patient:delete"
	PermRecordWrite   = "record:write"
	PermUserManage    = "user:manage"
	PermAuditView     = "audit:view"
)

// DefaultPermissions is used when no permissions file is configured.
var DefaultPermissions = Permissions{
	"administrator": {PermPatientView, PermPatientWrite, PermPatientDelete, PermRecordWrite, PermUserManage, PermAuditView},
	"clinician":     {PermPatientView, PermPatientWrite, PermPatientDelete, PermRecordWrite},
	"nurse":         {PermPatientView, PermRecordWrite},
	"other":         {PermPatientView},
}

type permissionsFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// LoadPermissions loads a permissions.yml file and returns a role->permissions map.
func LoadPermissions(path string) (Permissions, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read permissions file: %w", err)
	}
	var pf permissionsFile
	if err := yaml.Unmarshal(b, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse permissions file: %w", err)
	}
	if len(pf.Roles) == 0 {
		return nil, fmt.Errorf("permissions file %s defines no roles", path)
	}
	return Permissions(pf.Roles), nil
}

// HasPermission reports whether the principal's role grants permission.
func HasPermission(pr *Principal, permission string, perms Permissions) bool {
	if pr == nil {
		return false
	}
	for _, p := range perms[pr.Role] {
		if p == permission {
			return true
		}
	}
	return false
}
