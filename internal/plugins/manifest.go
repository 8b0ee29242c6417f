package plugins

import (
	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
)

// Manifest describe el plugin.json de cada plugin instalable.
type Manifest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Entry       string   `json:"entry"`
	Styles      []string `json:"styles,omitempty"`
	Permissions []string `json:"permissions"`
}

// Validate es síncrono y falla en el primer campo violado. Corre
// siempre antes de intentar adquirir el módulo.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return &sdk.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if m.Name == "" {
		return &sdk.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if m.Version == "" {
		return &sdk.ValidationError{Field: "version", Reason: "must not be empty"}
	}
	if m.Entry == "" {
		return &sdk.ValidationError{Field: "entry", Reason: "must not be empty"}
	}
	if m.Permissions == nil {
		return &sdk.ValidationError{Field: "permissions", Reason: "must be an array"}
	}
	for _, p := range m.Permissions {
		if _, err := sdk.ParsePermission(p); err != nil {
			return &sdk.ValidationError{Field: "permissions", Reason: err.Error()}
		}
	}
	return nil
}

// PermissionSet compila los strings del manifiesto al bitset cerrado.
// Asume un manifiesto ya validado; los desconocidos se ignoran.
func (m *Manifest) PermissionSet() sdk.PermissionSet {
	var set sdk.PermissionSet
	for _, p := range m.Permissions {
		if perm, err := sdk.ParsePermission(p); err == nil {
			set = set.With(perm)
		}
	}
	return set
}
