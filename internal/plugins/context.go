package plugins

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ChatForge/chatforge-gateway/internal/httpclient"
	"github.com/ChatForge/chatforge-gateway/internal/storage"
	"github.com/ChatForge/chatforge-gateway/internal/ui"
	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
	"go.uber.org/zap"
)

// CapabilityDeps son los colaboradores con los que se arma el bundle
// de capacidades de cada plugin.
type CapabilityDeps struct {
	Bus   sdk.Bus
	Store storage.Store
	UI    *ui.Service
	Log   *zap.Logger

	HTTPBase    string
	HTTPTimeout time.Duration

	// PrivateBus da a cada plugin su propio bus en vez del compartido.
	PrivateBus bool
	NewBus     func() sdk.Bus
}

// NewContextFactory devuelve el constructor de contextos que usa el
// Loader al instanciar plugins.
func NewContextFactory(deps CapabilityDeps) func(m *Manifest) sdk.Context {
	return func(m *Manifest) sdk.Context {
		bus := deps.Bus
		if deps.PrivateBus && deps.NewBus != nil {
			bus = deps.NewBus()
		}
		log := deps.Log.With(zap.String("plugin", m.ID))
		return &pluginContext{
			id:    m.ID,
			perms: m.PermissionSet(),
			bus:   bus,
			store: storage.NewNamespaced(deps.Store, "plugin:"+m.ID+":"),
			httpc: httpclient.New(deps.HTTPBase, deps.HTTPTimeout, log),
			uiSvc: deps.UI,
			cfg:   loadConfigStore(deps.Store, m.ID, log),
			log:   log,
		}
	}
}

type pluginContext struct {
	id    string
	perms sdk.PermissionSet
	bus   sdk.Bus
	store sdk.Store
	httpc sdk.HTTPClient
	uiSvc *ui.Service
	cfg   *configStore
	log   *zap.Logger
}

func (c *pluginContext) Events() sdk.Bus { return c.bus }

func (c *pluginContext) Storage() (sdk.Store, error) {
	if !c.perms.Has(sdk.PermStorage) {
		return nil, &sdk.PermissionError{PluginID: c.id, Required: sdk.PermStorage}
	}
	return c.store, nil
}

func (c *pluginContext) HTTP() (sdk.HTTPClient, error) {
	if !c.perms.Has(sdk.PermNetwork) {
		return nil, &sdk.PermissionError{PluginID: c.id, Required: sdk.PermNetwork}
	}
	return c.httpc, nil
}

func (c *pluginContext) UI() (sdk.UI, error) {
	if !c.perms.Has(sdk.PermUI) {
		return nil, &sdk.PermissionError{PluginID: c.id, Required: sdk.PermUI}
	}
	return c.uiSvc.Scoped(c.id), nil
}

func (c *pluginContext) Config() sdk.ConfigStore { return c.cfg }
func (c *pluginContext) Logger() *zap.Logger     { return c.log }

// configStore persiste la configuración del plugin como documento
// JSON en el store raíz, fuera del namespace del plugin para que un
// Clear de storage no se la lleve. Se carga al construir y se guarda
// en cada Set.
type configStore struct {
	mu     sync.Mutex
	store  storage.Store
	key    string
	values map[string]any
	log    *zap.Logger
}

func loadConfigStore(store storage.Store, pluginID string, log *zap.Logger) *configStore {
	cs := &configStore{
		store:  store,
		key:    "config:plugin:" + pluginID,
		values: make(map[string]any),
		log:    log,
	}
	raw, ok, err := store.Get(cs.key)
	if err != nil {
		log.Warn("plugin config load failed", zap.Error(err))
		return cs
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &cs.values); err != nil {
			log.Warn("plugin config corrupted, starting empty", zap.Error(err))
			cs.values = make(map[string]any)
		}
	}
	return cs
}

func (c *configStore) Get(key string) (any, bool) {
	c.mu.Lock()
	v, ok := c.values[key]
	c.mu.Unlock()
	return v, ok
}

func (c *configStore) Set(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value

	raw, err := json.Marshal(c.values)
	if err != nil {
		return err
	}
	return c.store.Set(c.key, string(raw))
}

func (c *configStore) All() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
