// Capacidad ui: contenedores, notificaciones, modales y menú.
// En el gateway se materializan como eventos ui:* que los clientes
// realtime conectados renderizan.

package ui

import (
	"fmt"
	"sync"

	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service lleva el registro de recursos de UI por plugin para poder
// liberarlos todos al descargar.
type Service struct {
	bus sdk.Bus
	log *zap.Logger

	mu         sync.Mutex
	containers map[string]string // container id -> plugin id
	menuItems  map[string]string // item id -> plugin id
}

func New(bus sdk.Bus, log *zap.Logger) *Service {
	return &Service{
		bus:        bus,
		log:        log,
		containers: make(map[string]string),
		menuItems:  make(map[string]string),
	}
}

// Scoped devuelve la vista de la capacidad para un plugin concreto.
func (s *Service) Scoped(pluginID string) sdk.UI {
	return &scope{svc: s, pluginID: pluginID}
}

// ReleasePlugin quita todos los contenedores e items de menú del
// plugin, publicando los eventos de remove correspondientes.
func (s *Service) ReleasePlugin(pluginID string) {
	s.mu.Lock()
	var containers, items []string
	for id, owner := range s.containers {
		if owner == pluginID {
			containers = append(containers, id)
		}
	}
	for id, owner := range s.menuItems {
		if owner == pluginID {
			items = append(items, id)
		}
	}
	for _, id := range containers {
		delete(s.containers, id)
	}
	for _, id := range items {
		delete(s.menuItems, id)
	}
	s.mu.Unlock()

	src := "plugin:" + pluginID
	for _, id := range containers {
		s.bus.Publish("ui:container:remove", map[string]any{"container_id": id}, src, nil)
	}
	for _, id := range items {
		s.bus.Publish("ui:menu:remove", map[string]any{"item_id": id}, src, nil)
	}
}

type scope struct {
	svc      *Service
	pluginID string
}

func (c *scope) source() string { return "plugin:" + c.pluginID }

func (c *scope) CreateContainer(id string) error {
	c.svc.mu.Lock()
	if owner, exists := c.svc.containers[id]; exists {
		c.svc.mu.Unlock()
		return fmt.Errorf("container %q already owned by plugin %q", id, owner)
	}
	c.svc.containers[id] = c.pluginID
	c.svc.mu.Unlock()

	c.svc.bus.Publish("ui:container:create", map[string]any{
		"container_id": id,
		"plugin":       c.pluginID,
	}, c.source(), nil)
	return nil
}

func (c *scope) RemoveContainer(id string) error {
	c.svc.mu.Lock()
	owner, exists := c.svc.containers[id]
	if !exists || owner != c.pluginID {
		c.svc.mu.Unlock()
		return fmt.Errorf("container %q not owned by plugin %q", id, c.pluginID)
	}
	delete(c.svc.containers, id)
	c.svc.mu.Unlock()

	c.svc.bus.Publish("ui:container:remove", map[string]any{
		"container_id": id,
	}, c.source(), nil)
	return nil
}

func (c *scope) Notify(level, message string) error {
	c.svc.bus.Publish("ui:notification", map[string]any{
		"level":   level,
		"message": message,
	}, c.source(), nil)
	return nil
}

func (c *scope) ShowModal(title, body string) (string, error) {
	modalID := uuid.NewString()
	c.svc.bus.Publish("ui:modal:show", map[string]any{
		"modal_id": modalID,
		"title":    title,
		"body":     body,
	}, c.source(), nil)
	return modalID, nil
}

func (c *scope) CloseModal(modalID string) error {
	c.svc.bus.Publish("ui:modal:close", map[string]any{
		"modal_id": modalID,
	}, c.source(), nil)
	return nil
}

func (c *scope) AddMenuItem(id, label, target string) error {
	c.svc.mu.Lock()
	if owner, exists := c.svc.menuItems[id]; exists {
		c.svc.mu.Unlock()
		return fmt.Errorf("menu item %q already owned by plugin %q", id, owner)
	}
	c.svc.menuItems[id] = c.pluginID
	c.svc.mu.Unlock()

	c.svc.bus.Publish("ui:menu:add", map[string]any{
		"item_id": id,
		"label":   label,
		"target":  target,
	}, c.source(), nil)
	return nil
}

func (c *scope) RemoveMenuItem(id string) error {
	c.svc.mu.Lock()
	owner, exists := c.svc.menuItems[id]
	if !exists || owner != c.pluginID {
		c.svc.mu.Unlock()
		return fmt.Errorf("menu item %q not owned by plugin %q", id, c.pluginID)
	}
	delete(c.svc.menuItems, id)
	c.svc.mu.Unlock()

	c.svc.bus.Publish("ui:menu:remove", map[string]any{
		"item_id": id,
	}, c.source(), nil)
	return nil
}
