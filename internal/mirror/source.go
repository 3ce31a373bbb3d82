package mirror

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/opsboard/flowmirror/internal/config"
	"github.com/opsboard/flowmirror/internal/logger"
	"github.com/opsboard/flowmirror/internal/store"
)

// Registry resolves the ordered list of sources to poll. Static sources
// from configuration come first, then active rows from the instances table,
// deduplicated by prefix with the first occurrence winning.
type Registry struct {
	static    []config.StaticSource
	instances store.InstanceStore
}

func NewRegistry(static []config.StaticSource, instances store.InstanceStore) *Registry {
	return &Registry{static: static, instances: instances}
}

// ListActiveSources never fails outright: if the instances lookup errors,
// the static sources are still returned so a store outage degrades the poll
// set instead of aborting the cycle.
func (r *Registry) ListActiveSources(ctx context.Context) []Source {
	var sources []Source
	for _, s := range r.static {
		sources = append(sources, Source{
			Prefix:  s.Prefix,
			Name:    s.Name,
			BaseURL: s.BaseURL,
			APIKey:  s.APIKey,
		})
	}
	if r.instances != nil {
		rows, err := r.instances.ListActiveInstances(ctx)
		if err != nil {
			logger.Warn("instance lookup failed, polling static sources only", zap.Error(err))
		}
		for _, inst := range rows {
			sources = append(sources, Source{
				Prefix:  InstancePrefix(inst),
				Name:    inst.Name,
				BaseURL: inst.BaseURL,
				APIKey:  inst.APIKey,
			})
		}
	}
	seen := make(map[string]struct{}, len(sources))
	unique := sources[:0]
	for _, src := range sources {
		if strings.TrimSpace(src.BaseURL) == "" {
			continue
		}
		if _, dup := seen[src.Prefix]; dup {
			continue
		}
		seen[src.Prefix] = struct{}{}
		unique = append(unique, src)
	}
	return unique
}

// InstancePrefix derives the id namespace for a dynamic instance: its
// trimmed identifier, or "inst_<row id>" when no identifier is set. Colons
// are replaced since colon separates prefix from upstream id; changing this
// mapping reassigns identity for every mirrored row, so don't.
func InstancePrefix(inst store.Instance) string {
	prefix := strings.TrimSpace(inst.Identifier)
	if prefix == "" {
		prefix = "inst_" + inst.ID
	}
	return strings.ReplaceAll(prefix, ":", "-")
}
