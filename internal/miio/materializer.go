package miio

import "fmt"

// ChannelSpec is a channel as exposed to the host.
type ChannelSpec struct {
	ID     ChannelID `json:"id"`
	Type   string    `json:"type"`
	Label  string    `json:"label"`
	UIType string    `json:"ui_type,omitempty"`
}

// Snapshot is the materialized view of a schema. It is immutable once
// published; a rebuild produces a new Snapshot.
type Snapshot struct {
	// Model is the model the schema was loaded for.
	Model string

	// Schema is nil until a schema has been loaded.
	Schema *DeviceSchema

	// Actions maps a channel to its command template.
	Actions map[ChannelID]ActionDef

	// Refresh lists the polled channels in schema order.
	Refresh []ChannelDef

	// Structured is false when the channel structure must be rebuilt on the
	// next refresh cycle.
	Structured bool
}

// emptySnapshot is the state before any schema is known.
var emptySnapshot = &Snapshot{Actions: map[ChannelID]ActionDef{}}

// stale returns a copy of s flagged for rebuild. The current index stays
// usable until the rebuild completes.
func (s *Snapshot) stale(model string) *Snapshot {
	cp := *s
	cp.Model = model
	cp.Structured = false
	return &cp
}

// Action returns the command template for a channel.
func (s *Snapshot) Action(id ChannelID) (ActionDef, bool) {
	a, ok := s.Actions[id]
	return a, ok
}

// MaterializeResult reports what a materialization changed.
type MaterializeResult struct {
	Snapshot *Snapshot

	// Changed counts channels added, replaced or removed in the registry.
	Changed int

	// Invalid holds one ErrChannelConfigInvalid error per skipped channel.
	Invalid []error
}

// Materialize reconciles the registry with the schema and builds a new
// Snapshot.
//
// For every channel with an id, its actions are indexed (a later action for
// the same id wins; actions with an unknown parameter type are skipped).
// Refreshing channels with a property are polled. Channels with a data type
// are exposed; an exposed
// channel whose type or label differs is removed and re-added. Exposed
// channels the schema no longer exposes are removed, except
// CommandsChannel. Running it twice on an unchanged schema reports zero
// changes the second time.
func Materialize(model string, s *DeviceSchema, reg ChannelRegistry) MaterializeResult {
	res := MaterializeResult{}
	actions := make(map[ChannelID]ActionDef)
	var refresh []ChannelDef

	existing := reg.Channels()
	seen := make(map[ChannelID]bool, len(s.Channels))
	exposed := make(map[ChannelID]bool, len(s.Channels))

	for _, ch := range s.Channels {
		if ch.ID == "" {
			res.Invalid = append(res.Invalid,
				fmt.Errorf("%w: channel %q has no id", ErrChannelConfigInvalid, ch.FriendlyName))
			continue
		}

		for _, a := range ch.Actions {
			if !a.ParameterType.Valid() {
				res.Invalid = append(res.Invalid,
					fmt.Errorf("%w: channel %q action %q has an unknown parameter type",
						ErrChannelConfigInvalid, ch.ID, a.Command))
				continue
			}
			actions[ch.ID] = a
		}

		if seen[ch.ID] {
			res.Invalid = append(res.Invalid,
				fmt.Errorf("%w: duplicate channel id %q", ErrChannelConfigInvalid, ch.ID))
			continue
		}
		seen[ch.ID] = true

		// Untyped channels are still polled; their values fail coercion.
		if ch.Refresh {
			if ch.Property == "" {
				res.Invalid = append(res.Invalid,
					fmt.Errorf("%w: channel %q refreshes without a property", ErrChannelConfigInvalid, ch.ID))
			} else {
				refresh = append(refresh, ch)
			}
		}

		if ch.Type == "" {
			res.Invalid = append(res.Invalid,
				fmt.Errorf("%w: channel %q has no data type", ErrChannelConfigInvalid, ch.ID))
			continue
		}

		exposed[ch.ID] = true
		want := ChannelSpec{ID: ch.ID, Type: ch.Type, Label: ch.FriendlyName, UIType: ch.UIType}
		if cur, ok := existing[ch.ID]; ok {
			if cur == want {
				continue
			}
			reg.Remove(ch.ID)
		}
		reg.Add(want)
		res.Changed++
	}

	for id := range existing {
		if !exposed[id] && id != CommandsChannel {
			reg.Remove(id)
			res.Changed++
		}
	}

	res.Snapshot = &Snapshot{
		Model:      model,
		Schema:     s,
		Actions:    actions,
		Refresh:    refresh,
		Structured: true,
	}
	return res
}

// Batches splits the refresh list into property-name batches of at most
// maxProperties entries, preserving order.
func Batches(refresh []ChannelDef, maxProperties int) [][]string {
	if maxProperties <= 0 {
		maxProperties = 1
	}
	var batches [][]string
	batch := make([]string, 0, maxProperties)
	for _, ch := range refresh {
		batch = append(batch, ch.Property)
		if len(batch) >= maxProperties {
			batches = append(batches, batch)
			batch = make([]string, 0, maxProperties)
		}
	}
	if len(batch) > 0 {
		batches = append(batches, batch)
	}
	return batches
}
