package plugins

import (
	"time"

	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
)

// Status es el estado del plugin dentro de la máquina
// Loading → Loaded → {Active ⇄ Inactive}; cualquier estado → Error.
// Error es terminal hasta reinstalar.
type Status string

const (
	StatusLoading  Status = "loading"
	StatusLoaded   Status = "loaded"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// Record es el registro vivo de un plugin instalado. Lo posee el
// Manager; el Loader lo crea durante la adquisición.
type Record struct {
	Manifest       Manifest
	Status         Status
	Instance       sdk.Plugin
	LoadTime       time.Time
	LastActiveTime time.Time
	Err            error

	ctx sdk.Context
}

// Context devuelve el bundle de capacidades de la instancia.
func (r *Record) Context() sdk.Context { return r.ctx }
