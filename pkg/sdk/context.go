package sdk

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Context es el bundle de capacidades que recibe cada plugin.
// Las capacidades privilegiadas (Storage/HTTP/UI) exigen que el
// manifiesto declare el permiso correspondiente; si falta devuelven
// *PermissionError, nunca un no-op silencioso.
type Context interface {
	Events() Bus
	Storage() (Store, error)
	HTTP() (HTTPClient, error)
	UI() (UI, error)
	Config() ConfigStore
	Logger() *zap.Logger
}

// Store es un key-value namespaced por plugin (prefijo plugin:<id>:).
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Clear() error
	Keys() ([]string, error)
}

// HTTPResponse es la respuesta ya leída de una llamada saliente.
type HTTPResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// HTTPClient es el cliente saliente con base URL e interceptores.
// Un timeout se reporta como *TransportError con Timeout=true.
type HTTPClient interface {
	Get(ctx context.Context, path string) (*HTTPResponse, error)
	Post(ctx context.Context, path string, body any) (*HTTPResponse, error)
	Put(ctx context.Context, path string, body any) (*HTTPResponse, error)
	Delete(ctx context.Context, path string) (*HTTPResponse, error)
}

// UI expone contenedores, notificaciones, modales y entradas de menú.
// En el gateway se materializan como eventos ui:* hacia los clientes
// realtime conectados.
type UI interface {
	CreateContainer(id string) error
	RemoveContainer(id string) error
	Notify(level, message string) error
	ShowModal(title, body string) (modalID string, err error)
	CloseModal(modalID string) error
	AddMenuItem(id, label, target string) error
	RemoveMenuItem(id string) error
}

// ConfigStore guarda la configuración persistida del plugin.
// Se carga al construir la instancia y se persiste en cada Set.
type ConfigStore interface {
	Get(key string) (any, bool)
	Set(key string, value any) error
	All() map[string]any
}
