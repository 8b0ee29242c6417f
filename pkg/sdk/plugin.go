package sdk

// Plugin es el contrato mínimo de un plugin cargado.
type Plugin interface {
	ID() string
}

// Factory construye la instancia del plugin con su API de capacidades.
// Cada módulo debe registrar una Factory bajo el id de su manifiesto.
type Factory func(ctx Context) (Plugin, error)

// Hooks opcionales de ciclo de vida. La presencia se comprueba con
// type assertion sobre la instancia, nunca por reflexión.
type LoadHook interface {
	OnLoad(ctx Context) error
}

type ActivateHook interface {
	OnActivate(ctx Context) error
}

type DeactivateHook interface {
	OnDeactivate(ctx Context) error
}

type UnloadHook interface {
	OnUnload(ctx Context) error
}
