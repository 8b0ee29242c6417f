package plugins

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ChatForge/chatforge-gateway/internal/events"
	"github.com/ChatForge/chatforge-gateway/internal/storage"
	"github.com/ChatForge/chatforge-gateway/internal/ui"
	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testPlugin cuenta invocaciones de hooks y puede fallar a demanda.
type testPlugin struct {
	id          string
	loads       int
	activates   int
	deactivates int
	unloads     int

	failLoad     bool
	failActivate bool
}

func (p *testPlugin) ID() string { return p.id }

func (p *testPlugin) OnLoad(sdk.Context) error {
	p.loads++
	if p.failLoad {
		return errors.New("load hook failed")
	}
	return nil
}

func (p *testPlugin) OnActivate(sdk.Context) error {
	p.activates++
	if p.failActivate {
		return errors.New("activate hook failed")
	}
	return nil
}

func (p *testPlugin) OnDeactivate(sdk.Context) error {
	p.deactivates++
	return nil
}

func (p *testPlugin) OnUnload(sdk.Context) error {
	p.unloads++
	return nil
}

// countingModules registra la factory al adquirir, como haría el
// init de un módulo real, y cuenta las adquisiciones.
type countingModules struct {
	registry *sdk.Registry
	plugin   *testPlugin
	acquired int
	released int
	factory  int
	noOp     bool // no registra factory: simula módulo roto

	failFactory bool
}

func (c *countingModules) Acquire(m *Manifest, dir string) error {
	c.acquired++
	if c.noOp {
		return nil
	}
	c.registry.Register(m.ID, func(ctx sdk.Context) (sdk.Plugin, error) {
		c.factory++
		if c.failFactory {
			return nil, errors.New("factory failed")
		}
		return c.plugin, nil
	})
	return nil
}

func (c *countingModules) Release(id string) { c.released++ }

type fixture struct {
	core    *events.Core
	store   *storage.Memory
	modules *countingModules
	loader  *Loader
	mgr     *Manager
	plugin  *testPlugin
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	core := events.NewCore(log)
	store := storage.NewMemory()
	registry := sdk.NewRegistry()
	plugin := &testPlugin{id: "demo"}
	modules := &countingModules{registry: registry, plugin: plugin}

	ctxFor := NewContextFactory(CapabilityDeps{
		Bus:   core,
		Store: store,
		UI:    ui.New(core, log),
		Log:   log,
	})
	loader := NewLoader(log, registry, modules, ctxFor)
	return &fixture{
		core:    core,
		store:   store,
		modules: modules,
		loader:  loader,
		mgr:     NewManager(log, core, loader),
		plugin:  plugin,
	}
}

func writeManifest(t *testing.T, m Manifest) string {
	t.Helper()
	dir := t.TempDir()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	path := filepath.Join(dir, "plugin.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func demoManifest() Manifest {
	return Manifest{
		ID:          "demo",
		Name:        "Demo",
		Version:     "1.0.0",
		Entry:       "demo.so",
		Permissions: []string{"events", "storage"},
	}
}

func TestManifestValidateFirstFault(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Manifest)
		field string
	}{
		{"missing id", func(m *Manifest) { m.ID = "" }, "id"},
		{"missing name", func(m *Manifest) { m.Name = "" }, "name"},
		{"missing version", func(m *Manifest) { m.Version = "" }, "version"},
		{"missing entry", func(m *Manifest) { m.Entry = "" }, "entry"},
		{"nil permissions", func(m *Manifest) { m.Permissions = nil }, "permissions"},
		{"unknown permission", func(m *Manifest) { m.Permissions = []string{"root"} }, "permissions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := demoManifest()
			tt.mut(&m)
			err := m.Validate()
			var verr *sdk.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	m := demoManifest()
	assert.NoError(t, m.Validate())
}

func TestInstallRejectsBeforeModuleAcquisition(t *testing.T) {
	f := newFixture(t)
	m := demoManifest()
	m.ID = ""
	path := writeManifest(t, m)

	_, err := f.mgr.Install(path)

	var verr *sdk.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)
	// el módulo nunca llegó a pedirse
	assert.Zero(t, f.modules.acquired)
}

func TestInstallIdempotentPerID(t *testing.T) {
	f := newFixture(t)
	path := writeManifest(t, demoManifest())

	first, err := f.mgr.Install(path)
	require.NoError(t, err)
	second, err := f.mgr.Install(path)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, f.modules.factory)
	assert.Equal(t, 1, f.plugin.loads)
	assert.Equal(t, StatusLoaded, first.Status)
}

func TestInstallFailsWithoutRegisteredFactory(t *testing.T) {
	f := newFixture(t)
	f.modules.noOp = true
	path := writeManifest(t, demoManifest())

	_, err := f.mgr.Install(path)

	var lerr *sdk.LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "demo", lerr.ID)
	// el recurso adquirido se libera al fallar
	assert.Equal(t, 1, f.modules.released)
}

func TestInstallFactoryFailureAllowsRetry(t *testing.T) {
	f := newFixture(t)
	f.modules.failFactory = true
	path := writeManifest(t, demoManifest())

	_, err := f.mgr.Install(path)

	var lerr *sdk.LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, 1, f.modules.released)
	// la factory fallida no deja record: el siguiente Install reintenta
	f.modules.failFactory = false
	rec, err := f.mgr.Install(path)
	require.NoError(t, err)
	assert.Equal(t, StatusLoaded, rec.Status)
}

func TestRecordVisibleAsLoadingDuringFactory(t *testing.T) {
	f := newFixture(t)
	f.modules.noOp = true
	path := writeManifest(t, demoManifest())

	// una carga reentrante del mismo id durante la factory ve el
	// record en Loading sin reinstanciar
	var during Status
	f.modules.registry.Register("demo", func(sdk.Context) (sdk.Plugin, error) {
		inner, err := f.loader.Load(path)
		require.NoError(t, err)
		during = inner.Status
		return f.plugin, nil
	})

	rec, err := f.loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, StatusLoading, during)
	assert.Equal(t, StatusLoaded, rec.Status)
}

func TestInstallOnLoadFailureLeavesError(t *testing.T) {
	f := newFixture(t)
	f.plugin.failLoad = true
	path := writeManifest(t, demoManifest())

	rec, err := f.mgr.Install(path)

	var aerr *sdk.ActivationError
	require.ErrorAs(t, err, &aerr)
	require.NotNil(t, rec)
	assert.Equal(t, StatusError, rec.Status)
	// Error es terminal hasta reinstalar
	assert.False(t, f.mgr.Enable("demo"))
}

func TestEnableIdempotent(t *testing.T) {
	f := newFixture(t)
	path := writeManifest(t, demoManifest())
	rec, err := f.mgr.Install(path)
	require.NoError(t, err)

	require.True(t, f.mgr.Enable("demo"))
	assert.Equal(t, StatusActive, rec.Status)
	assert.False(t, rec.LastActiveTime.IsZero())

	// enable sobre Active: no-op true, hook no repetido
	require.True(t, f.mgr.Enable("demo"))
	assert.Equal(t, 1, f.plugin.activates)
}

func TestDisableIdempotent(t *testing.T) {
	f := newFixture(t)
	path := writeManifest(t, demoManifest())
	rec, err := f.mgr.Install(path)
	require.NoError(t, err)
	require.True(t, f.mgr.Enable("demo"))

	require.True(t, f.mgr.Disable("demo"))
	assert.Equal(t, StatusInactive, rec.Status)

	require.True(t, f.mgr.Disable("demo"))
	assert.Equal(t, 1, f.plugin.deactivates)
}

func TestEnableHookFailureKeepsPriorState(t *testing.T) {
	f := newFixture(t)
	f.plugin.failActivate = true
	path := writeManifest(t, demoManifest())
	rec, err := f.mgr.Install(path)
	require.NoError(t, err)

	assert.False(t, f.mgr.Enable("demo"))
	assert.Equal(t, StatusLoaded, rec.Status)
	require.NotNil(t, rec.Err)
}

func TestLifecycleOpsOnUnknownID(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.mgr.Enable("missing"))
	assert.False(t, f.mgr.Disable("missing"))
	assert.False(t, f.mgr.Uninstall("missing"))
}

func TestUninstall(t *testing.T) {
	f := newFixture(t)
	path := writeManifest(t, demoManifest())
	_, err := f.mgr.Install(path)
	require.NoError(t, err)
	require.True(t, f.mgr.Enable("demo"))

	require.True(t, f.mgr.Uninstall("demo"))

	_, known := f.mgr.Get("demo")
	assert.False(t, known)
	assert.Equal(t, 1, f.plugin.deactivates) // disable best-effort
	assert.Equal(t, 1, f.plugin.unloads)
	assert.Equal(t, 1, f.modules.released)
}

func TestUninstallRunsReleasers(t *testing.T) {
	f := newFixture(t)
	var released []string
	f.loader.AddReleaser(func(id string) { released = append(released, id) })
	path := writeManifest(t, demoManifest())
	_, err := f.mgr.Install(path)
	require.NoError(t, err)

	require.True(t, f.mgr.Uninstall("demo"))
	assert.Equal(t, []string{"demo"}, released)
}

func TestReloadRestoresActiveState(t *testing.T) {
	f := newFixture(t)
	path := writeManifest(t, demoManifest())
	_, err := f.mgr.Install(path)
	require.NoError(t, err)
	require.True(t, f.mgr.Enable("demo"))

	rec, err := f.mgr.Reload("demo")
	require.NoError(t, err)

	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, 2, f.plugin.loads)
	assert.Equal(t, 2, f.plugin.activates)
	assert.Equal(t, 1, f.plugin.unloads)
}

func TestReloadInactiveStaysInactive(t *testing.T) {
	f := newFixture(t)
	path := writeManifest(t, demoManifest())
	_, err := f.mgr.Install(path)
	require.NoError(t, err)

	rec, err := f.mgr.Reload("demo")
	require.NoError(t, err)
	assert.Equal(t, StatusLoaded, rec.Status)
	assert.Zero(t, f.plugin.activates)
}

func TestLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	var types []string
	f.core.Subscribe("plugin:loaded", func(ev *sdk.Event) { types = append(types, ev.Type) })
	f.core.Subscribe("plugin:enabled", func(ev *sdk.Event) { types = append(types, ev.Type) })
	f.core.Subscribe("plugin:uninstalled", func(ev *sdk.Event) { types = append(types, ev.Type) })

	path := writeManifest(t, demoManifest())
	_, err := f.mgr.Install(path)
	require.NoError(t, err)
	f.mgr.Enable("demo")
	f.mgr.Uninstall("demo")

	assert.Equal(t, []string{"plugin:loaded", "plugin:enabled", "plugin:uninstalled"}, types)
}
