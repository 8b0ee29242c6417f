package events

import (
	"maps"
	"sync"
	"time"

	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TypeMiddlewareError es el evento secundario emitido cuando la
// cadena de middleware aborta. Nunca se re-reporta a sí mismo.
const TypeMiddlewareError = "bus:middleware-error"

// Filter decide si un evento entra al pipeline. Un false lo descarta
// antes de cualquier efecto secundario (ni historia ni stats).
type Filter func(ev *sdk.Event) bool

// Transformer muta Data/Metadata en cadena. ID, Type y Source son
// inmutables y se restauran si un transformer los toca.
type Transformer func(ev *sdk.Event)

// Middleware corre en modelo cebolla: el código antes de next() va de
// fuera hacia dentro, el de después en orden inverso. Devolver error
// (o no llamar next) corta el resto de la cadena para ese evento.
type Middleware func(ev *sdk.Event, next func() error) error

// Forwarder recibe los eventos que completan el pipeline entregables.
type Forwarder interface {
	Forward(ev *sdk.Event)
}

// Observer se invoca en el paso de estadísticas con el evento final.
type Observer func(ev *sdk.Event)

// Stats es la foto de contadores del bus.
type Stats struct {
	TotalEvents     uint64            `json:"total_events"`
	CancelledEvents uint64            `json:"cancelled_events"`
	ActiveListeners int               `json:"active_listeners"`
	EventTypeCounts map[string]uint64 `json:"event_type_counts"`
}

type subscription struct {
	typ     string // "" = comodín
	handler sdk.Handler
	once    bool
	active  bool
}

// Core es el event bus del gateway. Se construye y se inyecta; no hay
// singleton de paquete. Publish es re-entrante: un handler puede
// publicar y el pipeline anidado corre completo antes de devolver.
type Core struct {
	log        *zap.Logger
	maxHistory int

	mu           sync.Mutex
	subs         map[string][]*subscription
	wildcards    []*subscription
	filters      []Filter
	transformers []Transformer
	middlewares  []Middleware
	history      []sdk.Event
	total        uint64
	cancelled    uint64
	perType      map[string]uint64
	listeners    int
	bridge       Forwarder
	observer     Observer
}

type Option func(*Core)

func WithMaxHistory(n int) Option {
	return func(c *Core) {
		if n > 0 {
			c.maxHistory = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Core) { c.observer = o }
}

func WithBridge(f Forwarder) Option {
	return func(c *Core) { c.bridge = f }
}

const defaultMaxHistory = 100

func NewCore(log *zap.Logger, opts ...Option) *Core {
	c := &Core{
		log:        log,
		maxHistory: defaultMaxHistory,
		subs:       make(map[string][]*subscription),
		perType:    make(map[string]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetBridge engancha el SyncBridge una vez construido (se crea después
// del bus porque publica a través de él).
func (c *Core) SetBridge(f Forwarder) {
	c.mu.Lock()
	c.bridge = f
	c.mu.Unlock()
}

// Use registra middleware; el orden de registro es el orden de
// ejecución y es fijo para cada emisión.
func (c *Core) Use(mw Middleware) {
	c.mu.Lock()
	c.middlewares = append(c.middlewares, mw)
	c.mu.Unlock()
}

func (c *Core) AddFilter(f Filter) {
	c.mu.Lock()
	c.filters = append(c.filters, f)
	c.mu.Unlock()
}

func (c *Core) AddTransformer(t Transformer) {
	c.mu.Lock()
	c.transformers = append(c.transformers, t)
	c.mu.Unlock()
}

// Publish construye el evento y lo lleva por el pipeline completo:
// filtros → transformers → middleware → fan-out/bridge → stats →
// historia. Devuelve el evento (posiblemente mutado).
func (c *Core) Publish(typ string, data map[string]any, source string, meta map[string]string) *sdk.Event {
	ev := &sdk.Event{
		ID:          uuid.NewString(),
		Type:        typ,
		Data:        data,
		Source:      source,
		Timestamp:   time.Now(),
		Propagation: true,
		Metadata:    meta,
	}

	c.mu.Lock()
	filters := append([]Filter(nil), c.filters...)
	transformers := append([]Transformer(nil), c.transformers...)
	middlewares := append([]Middleware(nil), c.middlewares...)
	c.mu.Unlock()

	// rechazo duro: sin entrada en historia, sin contadores
	for _, f := range filters {
		if !f(ev) {
			return ev
		}
	}

	for _, t := range transformers {
		id, evTyp, src := ev.ID, ev.Type, ev.Source
		t(ev)
		ev.ID, ev.Type, ev.Source = id, evTyp, src
	}

	deliver := true
	if err := c.runChain(ev, middlewares); err != nil {
		deliver = false
		c.log.Warn("middleware chain aborted",
			zap.String("type", ev.Type),
			zap.String("id", ev.ID),
			zap.Error(err))
		c.reportMiddlewareError(ev, err)
	}

	if deliver && ev.Deliverable() {
		c.dispatch(ev)
		c.mu.Lock()
		bridge := c.bridge
		c.mu.Unlock()
		if bridge != nil {
			bridge.Forward(ev)
		}
	}

	c.mu.Lock()
	c.total++
	if ev.Cancelled {
		c.cancelled++
	}
	c.perType[ev.Type]++
	observer := c.observer
	c.history = append(c.history, snapshot(ev))
	if len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}
	c.mu.Unlock()

	if observer != nil {
		observer(ev)
	}
	return ev
}

// snapshot copia el evento con sus mapas: un handler que retenga el
// puntero y mute Data después no reescribe la entrada del histórico.
func snapshot(ev *sdk.Event) sdk.Event {
	cp := *ev
	cp.Data = maps.Clone(ev.Data)
	cp.Metadata = maps.Clone(ev.Metadata)
	return cp
}

func (c *Core) runChain(ev *sdk.Event, mws []Middleware) error {
	var run func(i int) error
	run = func(i int) error {
		if i >= len(mws) {
			return nil
		}
		return mws[i](ev, func() error { return run(i + 1) })
	}
	return run(0)
}

func (c *Core) reportMiddlewareError(ev *sdk.Event, err error) {
	if ev.Type == TypeMiddlewareError {
		return
	}
	c.Publish(TypeMiddlewareError, map[string]any{
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"source":     ev.Source,
		"error":      err.Error(),
	}, "event-bus", nil)
}

// dispatch entrega a suscriptores por tipo en orden de registro y
// luego a los comodines, también en orden. Un panic en un handler se
// aísla y no corta la entrega a los demás.
func (c *Core) dispatch(ev *sdk.Event) {
	c.mu.Lock()
	targets := make([]*subscription, 0, len(c.subs[ev.Type])+len(c.wildcards))
	targets = append(targets, c.subs[ev.Type]...)
	targets = append(targets, c.wildcards...)
	c.mu.Unlock()

	for _, s := range targets {
		c.invoke(s, ev)
	}
}

func (c *Core) invoke(s *subscription, ev *sdk.Event) {
	c.mu.Lock()
	if !s.active {
		c.mu.Unlock()
		return
	}
	if s.once {
		s.active = false
		c.removeLocked(s)
	}
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("event handler panicked",
				zap.String("type", ev.Type),
				zap.Any("panic", r))
		}
	}()
	s.handler(ev)
}

func (c *Core) Subscribe(typ string, h sdk.Handler) func() {
	return c.add(&subscription{typ: typ, handler: h, active: true})
}

func (c *Core) SubscribeOnce(typ string, h sdk.Handler) func() {
	return c.add(&subscription{typ: typ, handler: h, once: true, active: true})
}

func (c *Core) SubscribeAll(h sdk.Handler) func() {
	return c.add(&subscription{handler: h, active: true})
}

func (c *Core) add(s *subscription) func() {
	c.mu.Lock()
	if s.typ == "" {
		c.wildcards = append(c.wildcards, s)
	} else {
		c.subs[s.typ] = append(c.subs[s.typ], s)
	}
	c.listeners++
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		if s.active {
			s.active = false
			c.removeLocked(s)
		}
		c.mu.Unlock()
	}
}

func (c *Core) removeLocked(s *subscription) {
	if s.typ == "" {
		for i, cur := range c.wildcards {
			if cur == s {
				c.wildcards = append(c.wildcards[:i], c.wildcards[i+1:]...)
				break
			}
		}
	} else {
		list := c.subs[s.typ]
		for i, cur := range list {
			if cur == s {
				c.subs[s.typ] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(c.subs[s.typ]) == 0 {
			delete(c.subs, s.typ)
		}
	}
	c.listeners--
}

// History devuelve la cola de la historia, filtrable por tipo.
// limit <= 0 devuelve todo lo retenido.
func (c *Core) History(limit int, typ string) []sdk.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]sdk.Event, 0, len(c.history))
	for i := range c.history {
		if typ == "" || c.history[i].Type == typ {
			out = append(out, snapshot(&c.history[i]))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (c *Core) ClearHistory() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

func (c *Core) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[string]uint64, len(c.perType))
	for k, v := range c.perType {
		counts[k] = v
	}
	return Stats{
		TotalEvents:     c.total,
		CancelledEvents: c.cancelled,
		ActiveListeners: c.listeners,
		EventTypeCounts: counts,
	}
}

// ResetStats pone los contadores a cero sin tocar la historia.
func (c *Core) ResetStats() {
	c.mu.Lock()
	c.total = 0
	c.cancelled = 0
	c.perType = make(map[string]uint64)
	c.mu.Unlock()
}
