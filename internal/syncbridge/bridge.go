package syncbridge

import (
	"context"
	"crypto/tls"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// metaOrigin marca los eventos re-publicados desde el peer para no
// devolvérselos en bucle.
const metaOrigin = "sync_origin"

type Config struct {
	PeerURL  string
	Insecure bool
}

type handlerEntry struct {
	pluginID string
	priority int
	seq      int
	fn       sdk.Handler
}

// Bridge reenvía best-effort los eventos locales al peer remoto y a
// los clientes realtime conectados, y re-publica localmente los
// broadcasts del peer. Un fallo de red se loguea y se traga: nunca
// afecta a la entrega local.
type Bridge struct {
	cfg Config
	log *zap.Logger
	bus sdk.Bus

	mu       sync.Mutex
	conn     *websocket.Conn
	peerMu   sync.Mutex
	clients  map[*websocket.Conn]*client
	handlers map[string][]*handlerEntry
	seq      int
}

// client acumula los eventos pendientes de un realtime; una única
// goroutine escritora los drena, igual que el stream de /v1/events.
type client struct {
	conn *websocket.Conn
	ch   chan *sdk.Event
}

func New(cfg Config, bus sdk.Bus, log *zap.Logger) *Bridge {
	return &Bridge{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		clients:  make(map[*websocket.Conn]*client),
		handlers: make(map[string][]*handlerEntry),
	}
}

// Forward implementa events.Forwarder: recibe cada evento que
// completa el pipeline entregable.
func (b *Bridge) Forward(ev *sdk.Event) {
	b.dispatch(ev)
	b.Broadcast(ev)
	if ev.Metadata[metaOrigin] != "peer" {
		b.sendPeer(ev)
	}
}

func (b *Bridge) sendPeer(ev *sdk.Event) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	b.peerMu.Lock()
	err := conn.WriteJSON(ev)
	b.peerMu.Unlock()
	if err != nil {
		terr := &sdk.TransportError{Op: "peer forward", Err: err}
		b.log.Warn("peer forward failed", zap.String("type", ev.Type), zap.Error(terr))
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
		_ = conn.Close()
	}
}

// Run mantiene la conexión con el peer con reconexión (si hay peer
// configurado) y re-publica lo que llega de él.
func (b *Bridge) Run(ctx context.Context) {
	if b.cfg.PeerURL == "" {
		return
	}
	d := websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: b.cfg.Insecure}}
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := d.DialContext(ctx, b.cfg.PeerURL, http.Header{"User-Agent": {"chatforge-gw"}})
		if err != nil {
			b.log.Warn("peer dial failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		b.log.Info("peer connected", zap.String("url", b.cfg.PeerURL))

		for {
			var ev sdk.Event
			if err := conn.ReadJSON(&ev); err != nil {
				b.log.Warn("peer read", zap.Error(err))
				break
			}
			if ev.Metadata == nil {
				ev.Metadata = make(map[string]string)
			}
			ev.Metadata[metaOrigin] = "peer"
			b.bus.Publish(ev.Type, ev.Data, ev.Source, ev.Metadata)
		}

		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
		conn.Close()
		time.Sleep(time.Second)
	}
}

// AttachClient registra un cliente realtime ya actualizado a ws y
// arranca su goroutine escritora.
func (b *Bridge) AttachClient(conn *websocket.Conn) {
	cl := &client{conn: conn, ch: make(chan *sdk.Event, 64)}
	b.mu.Lock()
	b.clients[conn] = cl
	b.mu.Unlock()
	go b.writeLoop(cl)
}

// DetachClient saca al cliente del mapa y cierra su canal; el cierre
// ocurre bajo el mismo lock que los envíos de Broadcast, así que
// nunca hay envío sobre canal cerrado.
func (b *Bridge) DetachClient(conn *websocket.Conn) {
	b.mu.Lock()
	if cl, ok := b.clients[conn]; ok {
		delete(b.clients, conn)
		close(cl.ch)
	}
	b.mu.Unlock()
}

// Broadcast encola el evento a todos los clientes conectados; un
// cliente con el buffer lleno pierde el evento en vez de bloquear al
// publicador.
func (b *Bridge) Broadcast(ev *sdk.Event) {
	b.mu.Lock()
	for _, cl := range b.clients {
		select {
		case cl.ch <- ev:
		default:
			b.log.Debug("client buffer full, event dropped")
		}
	}
	b.mu.Unlock()
}

// writeLoop es el único escritor sobre la conexión del cliente. Si la
// escritura falla lo desconecta y drena lo que quede encolado.
func (b *Bridge) writeLoop(cl *client) {
	for ev := range cl.ch {
		if err := cl.conn.WriteJSON(ev); err != nil {
			b.log.Debug("client broadcast failed", zap.Error(err))
			b.DetachClient(cl.conn)
			_ = cl.conn.Close()
			for range cl.ch {
			}
			return
		}
	}
}

// RegisterHandler registra un handler de plugin para un tipo con
// prioridad; a mayor prioridad, antes se invoca.
func (b *Bridge) RegisterHandler(pluginID, typ string, priority int, fn sdk.Handler) {
	b.mu.Lock()
	b.seq++
	b.handlers[typ] = append(b.handlers[typ], &handlerEntry{
		pluginID: pluginID,
		priority: priority,
		seq:      b.seq,
		fn:       fn,
	})
	b.mu.Unlock()
}

// UnregisterPlugin quita todos los handlers del plugin en todos los
// tipos de evento que hubiera registrado.
func (b *Bridge) UnregisterPlugin(pluginID string) {
	b.mu.Lock()
	for typ, entries := range b.handlers {
		kept := entries[:0]
		for _, e := range entries {
			if e.pluginID != pluginID {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(b.handlers, typ)
		} else {
			b.handlers[typ] = kept
		}
	}
	b.mu.Unlock()
}

// dispatch invoca los handlers del tipo ordenados por prioridad
// descendente (empates por orden de registro), secuencialmente. Un
// panic en un handler no bloquea a sus hermanos.
func (b *Bridge) dispatch(ev *sdk.Event) {
	b.mu.Lock()
	entries := append([]*handlerEntry(nil), b.handlers[ev.Type]...)
	b.mu.Unlock()
	if len(entries) == 0 {
		return
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})

	for _, e := range entries {
		b.invoke(e, ev)
	}
}

func (b *Bridge) invoke(e *handlerEntry, ev *sdk.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bridge handler panicked",
				zap.String("plugin", e.pluginID),
				zap.String("type", ev.Type),
				zap.Any("panic", r))
		}
	}()
	e.fn(ev)
}
