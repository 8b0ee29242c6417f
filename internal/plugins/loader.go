package plugins

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"plugin"
	"sync"
	"time"

	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
	"go.uber.org/zap"
)

// ModuleLoader adquiere la unidad de código de un plugin. Tras un
// Acquire correcto la factory debe estar en el registry bajo el id
// del manifiesto; si no, la carga es un LoadError fatal.
type ModuleLoader interface {
	Acquire(m *Manifest, dir string) error
	Release(id string)
}

// GoLoader abre objetos compartidos con el paquete plugin de la
// stdlib; el init del .so registra la factory vía sdk.Register.
type GoLoader struct {
	mu      sync.Mutex
	handles map[string]*plugin.Plugin
}

func NewGoLoader() *GoLoader {
	return &GoLoader{handles: make(map[string]*plugin.Plugin)}
}

func (g *GoLoader) Acquire(m *Manifest, dir string) error {
	p, err := plugin.Open(filepath.Join(dir, m.Entry))
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.handles[m.ID] = p
	g.mu.Unlock()
	return nil
}

// Release solo suelta el handle: un .so abierto no se puede descargar
// del proceso, pero la factory sí sale del registry.
func (g *GoLoader) Release(id string) {
	g.mu.Lock()
	delete(g.handles, id)
	g.mu.Unlock()
}

// StaticLoader sirve para plugins compilados dentro del binario, que
// se registran en su init. No adquiere nada.
type StaticLoader struct{}

func (StaticLoader) Acquire(*Manifest, string) error { return nil }
func (StaticLoader) Release(string)                  {}

// Loader materializa plugins: manifiesto → validación → estilos →
// módulo → factory → instancia → hook OnLoad. Idempotente por id.
type Loader struct {
	log      *zap.Logger
	registry *sdk.Registry
	modules  ModuleLoader
	ctxFor   func(m *Manifest) sdk.Context

	mu        sync.Mutex
	records   map[string]*Record
	styles    map[string][]string
	releasers []func(pluginID string)
}

func NewLoader(log *zap.Logger, registry *sdk.Registry, modules ModuleLoader, ctxFor func(m *Manifest) sdk.Context) *Loader {
	return &Loader{
		log:      log,
		registry: registry,
		modules:  modules,
		ctxFor:   ctxFor,
		records:  make(map[string]*Record),
		styles:   make(map[string][]string),
	}
}

// AddReleaser registra limpieza extra por plugin id (p. ej. los
// contenedores de UI), invocada en Unload.
func (l *Loader) AddReleaser(fn func(pluginID string)) {
	l.mu.Lock()
	l.releasers = append(l.releasers, fn)
	l.mu.Unlock()
}

// Load lee y valida el manifiesto en path y materializa el plugin.
// Un id ya registrado devuelve el record existente sin reinstanciar
// ni repetir hooks. Si devuelve record y error a la vez, la
// instancia existe pero su OnLoad falló.
func (l *Loader) Load(path string) (*Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &sdk.LoadError{Path: path, Err: err}
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &sdk.LoadError{Path: path, Err: err}
	}

	// la validación corta antes de tocar estilos o módulo
	if err := m.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if rec, ok := l.records[m.ID]; ok {
		l.mu.Unlock()
		return rec, nil
	}
	l.mu.Unlock()

	dir := filepath.Dir(path)
	var styles []string
	for _, st := range m.Styles {
		p := filepath.Join(dir, st)
		if _, err := os.Stat(p); err != nil {
			l.log.Warn("plugin stylesheet missing",
				zap.String("plugin", m.ID),
				zap.String("style", st))
			continue
		}
		styles = append(styles, p)
	}

	if err := l.modules.Acquire(&m, dir); err != nil {
		return nil, &sdk.LoadError{ID: m.ID, Path: path, Err: err}
	}

	factory, ok := l.registry.Lookup(m.ID)
	if !ok {
		l.modules.Release(m.ID)
		return nil, &sdk.LoadError{ID: m.ID, Path: path,
			Err: errors.New("module did not register a factory under its manifest id")}
	}

	// el record queda visible en Loading mientras la factory corre;
	// una carga reentrante del mismo id lo ve sin reinstanciar
	ctx := l.ctxFor(&m)
	rec := &Record{
		Manifest: m,
		Status:   StatusLoading,
		LoadTime: time.Now(),
		ctx:      ctx,
	}
	l.mu.Lock()
	l.records[m.ID] = rec
	l.styles[m.ID] = styles
	l.mu.Unlock()

	inst, err := factory(ctx)
	if err != nil {
		l.mu.Lock()
		delete(l.records, m.ID)
		delete(l.styles, m.ID)
		l.mu.Unlock()
		l.modules.Release(m.ID)
		return nil, &sdk.LoadError{ID: m.ID, Path: path, Err: err}
	}
	rec.Instance = inst
	rec.Status = StatusLoaded

	if hook, ok := inst.(sdk.LoadHook); ok {
		if err := hook.OnLoad(ctx); err != nil {
			return rec, &sdk.ActivationError{ID: m.ID, Hook: "OnLoad", Err: err}
		}
	}

	l.log.Info("plugin loaded",
		zap.String("id", m.ID),
		zap.String("name", m.Name),
		zap.String("version", m.Version))
	return rec, nil
}

// Unload invoca OnUnload si existe, libera todos los recursos
// adquiridos con ese id y saca la factory del registry. Un id
// desconocido devuelve false sin error.
func (l *Loader) Unload(id string) bool {
	l.mu.Lock()
	rec, ok := l.records[id]
	if !ok {
		l.mu.Unlock()
		return false
	}
	delete(l.records, id)
	delete(l.styles, id)
	releasers := append([]func(string){}, l.releasers...)
	l.mu.Unlock()

	if hook, ok := rec.Instance.(sdk.UnloadHook); ok {
		if err := hook.OnUnload(rec.ctx); err != nil {
			l.log.Warn("plugin unload hook failed",
				zap.String("id", id), zap.Error(err))
		}
	}

	for _, release := range releasers {
		release(id)
	}
	l.modules.Release(id)
	l.registry.Remove(id)

	l.log.Info("plugin unloaded", zap.String("id", id))
	return true
}

// manifestPaths lista los plugin.json de los subdirectorios de dir.
func manifestPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name(), "plugin.json")
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths, nil
}
