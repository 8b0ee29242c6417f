// Storage - backing store key-value del gateway.

package storage

import (
	"strings"
	"sync"

	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
)

// Store es el contrato que consume el resto del gateway; coincide con
// la capacidad de storage que ven los plugins.
type Store = sdk.Store

// Memory es el store en memoria, para tests y despliegues efímeros.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	v, ok := m.data[key]
	m.mu.RUnlock()
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	m.data = make(map[string]string)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys() ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	return keys, nil
}

// Namespaced envuelve un Store con un prefijo de clave. Clear y Keys
// solo tocan el namespace propio.
type Namespaced struct {
	inner  Store
	prefix string
}

func NewNamespaced(inner Store, prefix string) *Namespaced {
	return &Namespaced{inner: inner, prefix: prefix}
}

func (n *Namespaced) Get(key string) (string, bool, error) {
	return n.inner.Get(n.prefix + key)
}

func (n *Namespaced) Set(key, value string) error {
	return n.inner.Set(n.prefix+key, value)
}

func (n *Namespaced) Remove(key string) error {
	return n.inner.Remove(n.prefix + key)
}

func (n *Namespaced) Clear() error {
	keys, err := n.inner.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if strings.HasPrefix(k, n.prefix) {
			if err := n.inner.Remove(k); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *Namespaced) Keys() ([]string, error) {
	keys, err := n.inner.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, n.prefix) {
			out = append(out, strings.TrimPrefix(k, n.prefix))
		}
	}
	return out, nil
}
