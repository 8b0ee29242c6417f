package sdk

import "time"

// Event es la unidad que viaja por el bus. Data es un payload opaco
// que cada suscriptor deserializa contra su propia forma esperada.
type Event struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Data        map[string]any    `json:"data"`
	Source      string            `json:"source"`
	Timestamp   time.Time         `json:"timestamp"`
	Cancelled   bool              `json:"cancelled,omitempty"`
	Propagation bool              `json:"propagation"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Cancel marca el evento como cancelado y corta la propagación.
// Cancelled y Propagation son flags distintos: solo los cancelados
// cuentan en las métricas de cancelación.
func (e *Event) Cancel() {
	e.Cancelled = true
	e.Propagation = false
}

// StopPropagation corta la entrega sin marcar cancelación.
func (e *Event) StopPropagation() {
	e.Propagation = false
}

// Deliverable indica si el evento debe llegar a suscriptores y al bridge.
func (e *Event) Deliverable() bool {
	return !e.Cancelled && e.Propagation
}

// ModifyData hace merge superficial del patch sobre Data.
func (e *Event) ModifyData(patch map[string]any) {
	if e.Data == nil {
		e.Data = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		e.Data[k] = v
	}
}

// Handler procesa un evento entregado por el bus.
type Handler func(ev *Event)

// Bus es la interfaz pública del event bus para plugins.
type Bus interface {
	Publish(typ string, data map[string]any, source string, meta map[string]string) *Event
	Subscribe(typ string, h Handler) (unsubscribe func())
	SubscribeOnce(typ string, h Handler) (unsubscribe func())
	SubscribeAll(h Handler) (unsubscribe func())
}
