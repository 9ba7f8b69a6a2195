package config

import "reflect"

// Diff describes what changed between two configs.
type Diff struct {
	AgentsAdded   []string
	AgentsRemoved []string
	AgentsChanged []string

	CoordinationChanged bool
	SimilarityChanged   bool

	// Non-reloadable sections that changed (log warnings only).
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *Diff) HasChanges() bool {
	return len(d.AgentsAdded) > 0 ||
		len(d.AgentsRemoved) > 0 ||
		len(d.AgentsChanged) > 0 ||
		d.CoordinationChanged ||
		d.SimilarityChanged
}

// Compare returns what changed from old to new. Agent lists are compared by
// id in the order of new.
func Compare(old, new *Config) Diff {
	var d Diff

	oldAgents := make(map[string]AgentConfig, len(old.Agents))
	for _, a := range old.Agents {
		oldAgents[a.ID] = a
	}
	newAgents := make(map[string]struct{}, len(new.Agents))

	for _, a := range new.Agents {
		newAgents[a.ID] = struct{}{}
		prev, ok := oldAgents[a.ID]
		switch {
		case !ok:
			d.AgentsAdded = append(d.AgentsAdded, a.ID)
		case !reflect.DeepEqual(prev, a):
			d.AgentsChanged = append(d.AgentsChanged, a.ID)
		}
	}
	for _, a := range old.Agents {
		if _, ok := newAgents[a.ID]; !ok {
			d.AgentsRemoved = append(d.AgentsRemoved, a.ID)
		}
	}

	d.CoordinationChanged = !reflect.DeepEqual(old.Coordination, new.Coordination)
	d.SimilarityChanged = !reflect.DeepEqual(old.Similarity, new.Similarity)

	if !reflect.DeepEqual(old.Logging, new.Logging) {
		d.NonReloadable = append(d.NonReloadable, "logging")
	}
	if !reflect.DeepEqual(old.Memory, new.Memory) {
		d.NonReloadable = append(d.NonReloadable, "memory")
	}
	if !reflect.DeepEqual(old.NATS, new.NATS) {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}

	return d
}
