package events

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

var typePattern = regexp.MustCompile(`^[A-Za-z0-9:_-]+$`)

// ValidationMiddleware cancela eventos con id/type/source vacíos o un
// type fuera del alfabeto permitido.
func ValidationMiddleware(log *zap.Logger) Middleware {
	return func(ev *sdk.Event, next func() error) error {
		var verr *sdk.ValidationError
		switch {
		case ev.ID == "":
			verr = &sdk.ValidationError{Field: "id", Reason: "must not be empty"}
		case ev.Type == "":
			verr = &sdk.ValidationError{Field: "type", Reason: "must not be empty"}
		case ev.Source == "":
			verr = &sdk.ValidationError{Field: "source", Reason: "must not be empty"}
		case !typePattern.MatchString(ev.Type):
			verr = &sdk.ValidationError{Field: "type", Reason: "contains invalid characters"}
		}
		if verr != nil {
			log.Debug("event rejected by validation",
				zap.String("type", ev.Type),
				zap.Error(verr))
			ev.Cancel()
			return nil
		}
		return next()
	}
}

// PermissionMiddleware permite sources por match exacto y tipos por
// patrón: exacto o prefijo glob "ns:*". Violación cancela.
func PermissionMiddleware(allowedSources, allowedTypes []string, log *zap.Logger) Middleware {
	sources := make(map[string]struct{}, len(allowedSources))
	for _, s := range allowedSources {
		sources[s] = struct{}{}
	}

	typeAllowed := func(typ string) bool {
		for _, pat := range allowedTypes {
			if pat == "*" || pat == typ {
				return true
			}
			if prefix, ok := strings.CutSuffix(pat, "*"); ok && strings.HasPrefix(typ, prefix) {
				return true
			}
		}
		return false
	}

	return func(ev *sdk.Event, next func() error) error {
		if _, ok := sources[ev.Source]; !ok {
			log.Debug("source not allowed", zap.String("source", ev.Source))
			ev.Cancel()
			return nil
		}
		if !typeAllowed(ev.Type) {
			log.Debug("event type not allowed", zap.String("type", ev.Type))
			ev.Cancel()
			return nil
		}
		return next()
	}
}

type rateWindow struct {
	start time.Time
	count int
}

// RateLimitMiddleware aplica ventana fija por (source,type). La
// ventana se resetea con el primer evento tras expirar; solo el
// evento que rebasa el límite se cancela, nunca los anteriores.
func RateLimitMiddleware(maxPerWindow int, window time.Duration, log *zap.Logger) Middleware {
	var mu sync.Mutex
	windows := make(map[string]*rateWindow)

	return func(ev *sdk.Event, next func() error) error {
		key := ev.Source + "|" + ev.Type
		now := time.Now()

		mu.Lock()
		// poda inline de ventanas vencidas, sin timer de fondo
		for k, w := range windows {
			if k != key && now.Sub(w.start) >= window {
				delete(windows, k)
			}
		}
		w, ok := windows[key]
		if !ok || now.Sub(w.start) >= window {
			w = &rateWindow{start: now}
			windows[key] = w
		}
		w.count++
		over := w.count > maxPerWindow
		mu.Unlock()

		if over {
			log.Debug("event rate limited",
				zap.String("source", ev.Source),
				zap.String("type", ev.Type),
				zap.Error(sdk.ErrRateLimited))
			ev.Cancel()
			return nil
		}
		return next()
	}
}

// DedupMiddleware cancela repeticiones de (type,source,data) dentro
// de un TTL. Las entradas vencidas se barren en cada llamada.
func DedupMiddleware(ttl time.Duration, log *zap.Logger) Middleware {
	var mu sync.Mutex
	seen := make(map[uint64]time.Time)

	return func(ev *sdk.Event, next func() error) error {
		h := eventHash(ev)
		now := time.Now()

		mu.Lock()
		for k, t := range seen {
			if now.Sub(t) >= ttl {
				delete(seen, k)
			}
		}
		_, dup := seen[h]
		if !dup {
			seen[h] = now
		}
		mu.Unlock()

		if dup {
			log.Debug("duplicate event suppressed",
				zap.String("type", ev.Type),
				zap.String("source", ev.Source),
				zap.Error(sdk.ErrDuplicateEvent))
			ev.Cancel()
			return nil
		}
		return next()
	}
}

func eventHash(ev *sdk.Event) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(ev.Type)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(ev.Source)
	_, _ = d.WriteString("|")
	if b, err := json.Marshal(ev.Data); err == nil {
		_, _ = d.Write(b)
	} else {
		_, _ = d.WriteString(fmt.Sprintf("%v", ev.Data))
	}
	return d.Sum64()
}

// TransformMiddleware aplica una mutación síncrona sobre Data.
func TransformMiddleware(fn func(data map[string]any) map[string]any) Middleware {
	return func(ev *sdk.Event, next func() error) error {
		if fn != nil {
			ev.Data = fn(ev.Data)
		}
		return next()
	}
}

// EnhanceMiddleware enriquece Data con una fuente best-effort; un
// fallo se traga y el evento sigue sin cancelarse.
func EnhanceMiddleware(enrich func(ev *sdk.Event) (map[string]any, error), log *zap.Logger) Middleware {
	return func(ev *sdk.Event, next func() error) error {
		patch, err := enrich(ev)
		if err != nil {
			log.Debug("event enhancement failed",
				zap.String("type", ev.Type),
				zap.Error(err))
		} else if patch != nil {
			ev.ModifyData(patch)
		}
		return next()
	}
}

// PerfMonitorMiddleware mide el tiempo de pared alrededor de next()
// y avisa si supera el umbral.
func PerfMonitorMiddleware(threshold time.Duration, log *zap.Logger) Middleware {
	return func(ev *sdk.Event, next func() error) error {
		start := time.Now()
		err := next()
		if elapsed := time.Since(start); elapsed > threshold {
			log.Warn("slow event pipeline",
				zap.String("type", ev.Type),
				zap.Duration("elapsed", elapsed),
				zap.Duration("threshold", threshold))
		}
		return err
	}
}

// RecovererMiddleware debe registrarse el más externo: convierte un
// panic del middleware interior en un error reportable, para que el
// publicador nunca reviente.
func RecovererMiddleware(log *zap.Logger) Middleware {
	return func(ev *sdk.Event, next func() error) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("middleware panicked",
					zap.String("type", ev.Type),
					zap.Any("panic", r))
				err = fmt.Errorf("middleware panic: %v", r)
			}
		}()
		return next()
	}
}
