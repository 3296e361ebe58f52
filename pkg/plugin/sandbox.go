package plugin

// Permissions is the fixed set of capability flags a manifest declares
type Permissions struct {
	DatabaseRead  bool `json:"d1Read"`
	DatabaseWrite bool `json:"d1Write"`
	StorageRead   bool `json:"r2Read"`
	StorageWrite  bool `json:"r2Write"`
	ExternalFetch bool `json:"externalFetch"`
}

// Allows reports whether the flag for permission is set.
// PermissionNone is always allowed; unknown permissions never are.
func (p *Permissions) Allows(permission Permission) bool {
	if permission == PermissionNone {
		return true
	}
	if p == nil {
		return false
	}

	switch permission {
	case PermissionDatabaseRead:
		return p.DatabaseRead
	case PermissionDatabaseWrite:
		return p.DatabaseWrite
	case PermissionStorageRead:
		return p.StorageRead
	case PermissionStorageWrite:
		return p.StorageWrite
	case PermissionExternalFetch:
		return p.ExternalFetch
	default:
		return false
	}
}

// Granted returns the permissions whose flag is set, in declaration order
func (p *Permissions) Granted() []Permission {
	perms := make([]Permission, 0, len(ValidPermissions))
	for _, perm := range []Permission{
		PermissionDatabaseRead,
		PermissionDatabaseWrite,
		PermissionStorageRead,
		PermissionStorageWrite,
		PermissionExternalFetch,
	} {
		if p.Allows(perm) {
			perms = append(perms, perm)
		}
	}
	return perms
}
