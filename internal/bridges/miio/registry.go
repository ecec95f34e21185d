package miio

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/miio"
)

// commitTimeout bounds one registry commit.
const commitTimeout = 5 * time.Second

// commandsChannelSpec is the raw command channel every device exposes.
var commandsChannelSpec = miio.ChannelSpec{
	ID:     miio.CommandsChannel,
	Type:   "string",
	Label:  "Execute command",
	UIType: "text",
}

// channelRegistry is one device's channel set. Changes are held in memory
// until Commit writes the whole set to the store.
type channelRegistry struct {
	deviceID string
	store    Store

	mu       sync.RWMutex
	channels map[miio.ChannelID]miio.ChannelSpec
}

// newChannelRegistry creates a registry seeded with the stored channels and
// the raw command channel.
func newChannelRegistry(deviceID string, store Store, initial []miio.ChannelSpec) *channelRegistry {
	r := &channelRegistry{
		deviceID: deviceID,
		store:    store,
		channels: make(map[miio.ChannelID]miio.ChannelSpec, len(initial)+1),
	}
	for _, spec := range initial {
		r.channels[spec.ID] = spec
	}
	if _, ok := r.channels[miio.CommandsChannel]; !ok {
		r.channels[miio.CommandsChannel] = commandsChannelSpec
	}
	return r
}

// Channels returns a copy of the current set.
func (r *channelRegistry) Channels() map[miio.ChannelID]miio.ChannelSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[miio.ChannelID]miio.ChannelSpec, len(r.channels))
	for id, spec := range r.channels {
		out[id] = spec
	}
	return out
}

// Add inserts or replaces a channel.
func (r *channelRegistry) Add(spec miio.ChannelSpec) {
	r.mu.Lock()
	r.channels[spec.ID] = spec
	r.mu.Unlock()
}

// Remove deletes a channel.
func (r *channelRegistry) Remove(id miio.ChannelID) {
	r.mu.Lock()
	delete(r.channels, id)
	r.mu.Unlock()
}

// Get returns one channel.
func (r *channelRegistry) Get(id miio.ChannelID) (miio.ChannelSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.channels[id]
	return spec, ok
}

// List returns the channels ordered by id.
func (r *channelRegistry) List() []miio.ChannelSpec {
	r.mu.RLock()
	specs := make([]miio.ChannelSpec, 0, len(r.channels))
	for _, spec := range r.channels {
		specs = append(specs, spec)
	}
	r.mu.RUnlock()

	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// Commit persists the current set. Without a store it only keeps the set
// in memory.
func (r *channelRegistry) Commit() error {
	if r.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	return r.store.ReplaceChannels(ctx, r.deviceID, r.List())
}
