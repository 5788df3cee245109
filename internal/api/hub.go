package api

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/config"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/logging"
)

// Broadcast channels clients can subscribe to.
const (
	ChannelReading             = "reading"
	ChannelDeviceState         = "device.state"
	ChannelProvisioningStatus  = "provisioning.status"
	ChannelProvisioningOutcome = "provisioning.outcome"
)

var channels = []string{
	ChannelReading,
	ChannelDeviceState,
	ChannelProvisioningStatus,
	ChannelProvisioningOutcome,
}

// Channels returns every broadcast channel.
func Channels() []string {
	return slices.Clone(channels)
}

func knownChannel(ch string) bool {
	return slices.Contains(channels, ch)
}

// Hub fans garden events out to WebSocket clients. A client receives an
// event only if it subscribed to the channel and, for per-device events,
// the device passes its filter.
type Hub struct {
	cfg     config.WebSocketConfig
	version string
	logger  *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	dropped atomic.Uint64
}

// NewHub creates a hub. version is announced to clients on connect.
func NewHub(cfg config.WebSocketConfig, version string, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		version: version,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "remote", c.remote, "clients", n)
}

func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "remote", c.remote, "clients", n)
}

// Broadcast sends payload on channel. identity names the device the event
// concerns; pass "" for events that are not about one device.
func (h *Hub) Broadcast(channel, identity string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.wants(channel, identity) {
			continue
		}
		if !c.enqueue(data) {
			h.dropped.Add(1)
			h.logger.Debug("websocket client too slow, event dropped", "remote", c.remote, "channel", channel)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
