package sdk

import "fmt"

// Permission es un bit dentro del set declarado por el manifiesto.
type Permission uint8

const (
	PermEvents Permission = 1 << iota
	PermStorage
	PermNetwork
	PermUI
)

func (p Permission) String() string {
	switch p {
	case PermEvents:
		return "events"
	case PermStorage:
		return "storage"
	case PermNetwork:
		return "network"
	case PermUI:
		return "ui"
	}
	return fmt.Sprintf("permission(%d)", uint8(p))
}

// ParsePermission mapea el string del manifiesto al bit cerrado.
func ParsePermission(s string) (Permission, error) {
	switch s {
	case "events":
		return PermEvents, nil
	case "storage":
		return PermStorage, nil
	case "network":
		return PermNetwork, nil
	case "ui":
		return PermUI, nil
	}
	return 0, fmt.Errorf("unknown permission %q", s)
}

// PermissionSet es el conjunto de permisos de un plugin.
type PermissionSet uint8

func (s PermissionSet) Has(p Permission) bool {
	return uint8(s)&uint8(p) != 0
}

func (s PermissionSet) With(p Permission) PermissionSet {
	return PermissionSet(uint8(s) | uint8(p))
}
