package sdk

import (
	"errors"
	"fmt"
)

// Soft-fails del middleware: cancelan el evento, nunca se lanzan al
// publicador. Se exponen para logging y tests.
var (
	ErrRateLimited    = errors.New("event rate limit exceeded")
	ErrDuplicateEvent = errors.New("duplicate event suppressed")
)

// ValidationError: evento o manifiesto malformado.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: field %q %s", e.Field, e.Reason)
}

// PermissionError: capacidad usada sin el permiso declarado.
type PermissionError struct {
	PluginID string
	Required Permission
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("plugin %q lacks permission %q", e.PluginID, e.Required)
}

// LoadError: fallo adquiriendo manifiesto o módulo.
type LoadError struct {
	ID   string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load plugin %q from %q: %v", e.ID, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ActivationError: un hook de ciclo de vida falló.
type ActivationError struct {
	ID   string
	Hook string
	Err  error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("plugin %q hook %s: %v", e.ID, e.Hook, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// TransportError: fallo de red en broadcast o llamada saliente.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transport %s: timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
