package sdk

import "sync"

// Registry guarda las factories registradas por los módulos cargados.
// El loader comprueba tras adquirir un módulo que este dejó su factory
// bajo el id del manifiesto; si no, la carga falla.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register deja la factory bajo id. Re-registrar el mismo id
// reemplaza la anterior (recarga de módulo).
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	r.factories[id] = f
	r.mu.Unlock()
}

func (r *Registry) Lookup(id string) (Factory, bool) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	return f, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.factories, id)
	r.mu.Unlock()
}

// DefaultRegistry es el registro compartido que usan los módulos
// externos vía sdk.Register en su init.
var DefaultRegistry = NewRegistry()

func Register(id string, f Factory) {
	DefaultRegistry.Register(id, f)
}
