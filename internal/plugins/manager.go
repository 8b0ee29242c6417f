package plugins

import (
	"fmt"
	"sync"
	"time"

	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
	"go.uber.org/zap"
)

// Manager controla los plugins instalados y su máquina de estados.
// Enable/Disable/Uninstall devuelven bool y nunca lanzan: los fallos
// de hook se capturan, se loguean y dejan al plugin en su estado
// previo (o en Error si el fallo fue durante la instalación).
type Manager struct {
	log    *zap.Logger
	bus    sdk.Bus
	loader *Loader

	mu      sync.Mutex
	records map[string]*Record
	paths   map[string]string
}

func NewManager(log *zap.Logger, bus sdk.Bus, loader *Loader) *Manager {
	return &Manager{
		log:     log,
		bus:     bus,
		loader:  loader,
		records: make(map[string]*Record),
		paths:   make(map[string]string),
	}
}

// Install valida, carga y deja el plugin en Loaded. Reinstalar un id
// conocido devuelve el record existente sin tocar nada.
func (m *Manager) Install(path string) (*Record, error) {
	rec, err := m.loader.Load(path)
	if err != nil {
		if rec != nil {
			// instancia creada pero OnLoad falló: Error terminal
			m.mu.Lock()
			rec.Status = StatusError
			rec.Err = err
			m.records[rec.Manifest.ID] = rec
			m.paths[rec.Manifest.ID] = path
			m.mu.Unlock()
		}
		m.log.Error("plugin install failed", zap.String("path", path), zap.Error(err))
		return rec, err
	}

	m.mu.Lock()
	id := rec.Manifest.ID
	if _, known := m.records[id]; known {
		m.mu.Unlock()
		return rec, nil
	}
	m.records[id] = rec
	m.paths[id] = path
	m.mu.Unlock()

	m.bus.Publish("plugin:loaded", map[string]any{
		"id":      rec.Manifest.ID,
		"name":    rec.Manifest.Name,
		"version": rec.Manifest.Version,
	}, "plugin-manager", nil)
	return rec, nil
}

// Enable activa el plugin. Sobre uno ya Active es no-op true y el
// hook no se repite. Sobre Error devuelve false: Error es terminal.
func (m *Manager) Enable(id string) bool {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	switch rec.Status {
	case StatusActive:
		m.mu.Unlock()
		return true
	case StatusError, StatusLoading:
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	if hook, ok := rec.Instance.(sdk.ActivateHook); ok {
		if err := hook.OnActivate(rec.ctx); err != nil {
			aerr := &sdk.ActivationError{ID: id, Hook: "OnActivate", Err: err}
			m.log.Warn("plugin enable failed", zap.String("id", id), zap.Error(aerr))
			m.mu.Lock()
			rec.Err = aerr
			m.mu.Unlock()
			return false
		}
	}

	m.mu.Lock()
	rec.Status = StatusActive
	rec.LastActiveTime = time.Now()
	rec.Err = nil
	m.mu.Unlock()

	m.bus.Publish("plugin:enabled", map[string]any{"id": id}, "plugin-manager", nil)
	return true
}

// Disable desactiva el plugin. Sobre uno no Active es no-op true sin
// repetir el hook; un id desconocido devuelve false.
func (m *Manager) Disable(id string) bool {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if rec.Status != StatusActive {
		m.mu.Unlock()
		return rec.Status != StatusError
	}
	m.mu.Unlock()

	if hook, ok := rec.Instance.(sdk.DeactivateHook); ok {
		if err := hook.OnDeactivate(rec.ctx); err != nil {
			aerr := &sdk.ActivationError{ID: id, Hook: "OnDeactivate", Err: err}
			m.log.Warn("plugin disable failed", zap.String("id", id), zap.Error(aerr))
			m.mu.Lock()
			rec.Err = aerr
			m.mu.Unlock()
			return false
		}
	}

	m.mu.Lock()
	rec.Status = StatusInactive
	m.mu.Unlock()

	m.bus.Publish("plugin:disabled", map[string]any{"id": id}, "plugin-manager", nil)
	return true
}

// Uninstall hace disable best-effort, descarga y borra el record.
// Un id desconocido devuelve false sin excepción.
func (m *Manager) Uninstall(id string) bool {
	m.mu.Lock()
	_, ok := m.records[id]
	m.mu.Unlock()
	if !ok {
		return false
	}

	_ = m.Disable(id)
	m.loader.Unload(id)

	m.mu.Lock()
	delete(m.records, id)
	delete(m.paths, id)
	m.mu.Unlock()

	m.bus.Publish("plugin:uninstalled", map[string]any{"id": id}, "plugin-manager", nil)
	return true
}

// Reload desinstala y reinstala desde el path recordado; si estaba
// Active se reactiva.
func (m *Manager) Reload(id string) (*Record, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	path := m.paths[id]
	wasActive := ok && rec.Status == StatusActive
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("plugin %q is not installed", id)
	}

	m.Uninstall(id)

	fresh, err := m.Install(path)
	if err != nil {
		return fresh, err
	}
	if wasActive {
		m.Enable(id)
	}
	return fresh, nil
}

func (m *Manager) Get(id string) (*Record, bool) {
	m.mu.Lock()
	rec, ok := m.records[id]
	m.mu.Unlock()
	return rec, ok
}

// List devuelve los records instalados; el orden no está definido.
func (m *Manager) List() []*Record {
	m.mu.Lock()
	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.Unlock()
	return out
}

// InstallDir instala todos los plugin.json que cuelgan del
// directorio; los fallos individuales se loguean y no frenan al resto.
func (m *Manager) InstallDir(dir string) {
	entries, err := manifestPaths(dir)
	if err != nil {
		m.log.Warn("plugin dir scan failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	for _, path := range entries {
		if _, err := m.Install(path); err != nil {
			m.log.Error("failed to load plugin",
				zap.String("path", path),
				zap.Error(err))
		}
	}
}

// Shutdown desactiva y descarga todos los plugins.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if !m.Uninstall(id) {
			m.log.Warn("plugin shutdown failed", zap.String("id", id))
		}
	}
}
