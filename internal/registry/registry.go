// Package registry discovers and resolves responders across the configured
// fleet of analysis-engine instances. Lookups fan out to every instance
// concurrently; a single failing instance is logged and excluded, never
// failing the aggregate.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/stackwatch/relay/internal/engine"
	"github.com/stackwatch/relay/internal/entity"
	"github.com/stackwatch/relay/internal/model"
)

// MergePolicy controls how sensitivity thresholds combine when responders
// sharing a name are merged across instances.
type MergePolicy string

const (
	// MergeMostPermissive keeps the loosest bound: unlimited if any backing
	// instance is unlimited, otherwise the highest threshold.
	MergeMostPermissive MergePolicy = "permissive"
	// MergeMostRestrictive keeps the tightest bound: the lowest explicit
	// threshold, unlimited only if every backing instance is unlimited.
	MergeMostRestrictive MergePolicy = "restrictive"
)

// ParseMergePolicy maps a config string onto a policy, defaulting to
// most-permissive.
func ParseMergePolicy(s string) MergePolicy {
	if MergePolicy(strings.ToLower(s)) == MergeMostRestrictive {
		return MergeMostRestrictive
	}
	return MergeMostPermissive
}

// Sensitivity defaults applied when the owning case cannot be resolved
// during discovery. Deliberately the least-sensitive levels: discovery
// filtering should not hide responders from an entity with no case context.
// Dispatch uses different, stricter defaults (see the dispatch package).
const (
	discoveryDefaultTLP = 0
	discoveryDefaultPAP = 0
)

// Registry resolves responders across all configured engine instances. The
// instance list is built once at startup and never mutated.
type Registry struct {
	instances []*engine.Instance
	cases     entity.CaseResolver
	policy    MergePolicy
	logger    *slog.Logger
}

// New creates a registry over the given instances.
func New(instances []*engine.Instance, cases entity.CaseResolver, policy MergePolicy, logger *slog.Logger) *Registry {
	return &Registry{
		instances: instances,
		cases:     cases,
		policy:    policy,
		logger:    logger,
	}
}

// Instances returns the configured instance handles.
func (r *Registry) Instances() []*engine.Instance {
	return r.instances
}

// Instance returns the instance with the given name.
func (r *Registry) Instance(name string) (*engine.Instance, error) {
	for _, inst := range r.instances {
		if inst.Name() == name {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("instance %q: %w", name, model.ErrNotFound)
}

// ResolveID resolves a responder id to a concrete (responder, instance)
// pair. Composite ids of the form "<instanceName>-<responderID>" route
// directly to the named instance; plain ids race the lookup across every
// instance and adopt the first success.
func (r *Registry) ResolveID(ctx context.Context, id string) (*model.Responder, *engine.Instance, error) {
	for _, inst := range r.instances {
		if rest, ok := strings.CutPrefix(id, inst.Name()+"-"); ok && rest != "" {
			responder, err := inst.Responder(ctx, rest)
			if err != nil {
				return nil, nil, err
			}
			return responder, inst, nil
		}
	}

	return r.race(ctx, fmt.Sprintf("responder %q", id), func(inst *engine.Instance) (*model.Responder, error) {
		return inst.Responder(ctx, id)
	})
}

// ResolveName races a responder-name lookup across every instance and adopts
// the first instance that knows the name.
func (r *Registry) ResolveName(ctx context.Context, name string) (*model.Responder, *engine.Instance, error) {
	return r.race(ctx, fmt.Sprintf("responder %q", name), func(inst *engine.Instance) (*model.Responder, error) {
		return inst.ResponderByName(ctx, name)
	})
}

// race issues lookup on every instance concurrently and returns the first
// success. Losing lookups complete into a buffered channel and are
// discarded; a lookup has no side effects, so discarding is safe.
func (r *Registry) race(ctx context.Context, what string, lookup func(*engine.Instance) (*model.Responder, error)) (*model.Responder, *engine.Instance, error) {
	if len(r.instances) == 0 {
		return nil, nil, fmt.Errorf("%s: no instances configured: %w", what, model.ErrNotFound)
	}

	type outcome struct {
		responder *model.Responder
		inst      *engine.Instance
		err       error
	}
	results := make(chan outcome, len(r.instances))
	for _, inst := range r.instances {
		go func(inst *engine.Instance) {
			responder, err := lookup(inst)
			results <- outcome{responder, inst, err}
		}(inst)
	}

	for range r.instances {
		o := <-results
		if o.err == nil {
			return o.responder, o.inst, nil
		}
		r.logger.Debug("responder lookup failed",
			"instance", o.inst.Name(),
			"error", o.err,
		)
	}
	return nil, nil, fmt.Errorf("%s: %w", what, model.ErrNotFound)
}

// FindAll searches every instance concurrently and merges the results by
// responder name. An instance that fails contributes zero results.
func (r *Registry) FindAll(ctx context.Context, query map[string]any) []model.MergedResponder {
	type outcome struct {
		inst       string
		responders []model.Responder
		err        error
	}
	results := make(chan outcome, len(r.instances))
	for _, inst := range r.instances {
		go func(inst *engine.Instance) {
			responders, err := inst.FindResponders(ctx, query)
			results <- outcome{inst.Name(), responders, err}
		}(inst)
	}

	var all []model.Responder
	for range r.instances {
		o := <-results
		if o.err != nil {
			r.logger.Warn("responder search failed, instance excluded",
				"instance", o.inst,
				"error", o.err,
			)
			continue
		}
		all = append(all, o.responders...)
	}

	return r.merge(all)
}

// FindApplicable returns the merged responders that accept the entity's
// type and sensitivity. A failed case lookup treats the entity as least
// sensitive, not most.
func (r *Registry) FindApplicable(ctx context.Context, entityType, entityID string) []model.MergedResponder {
	query := map[string]any{"dataTypeList": model.DataType(entityType)}
	merged := r.FindAll(ctx, query)

	tlp, pap := discoveryDefaultTLP, discoveryDefaultPAP
	if c, err := r.cases.OwningCase(ctx, entityType, entityID); err == nil {
		tlp, pap = c.TLP, c.PAP
	} else {
		r.logger.Debug("case lookup failed, using discovery defaults",
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
	}

	applicable := merged[:0]
	for _, m := range merged {
		if Applicable(m.MaxTLP, m.MaxPAP, tlp, pap) {
			applicable = append(applicable, m)
		}
	}
	return applicable
}

// merge groups responders by logical name. Each group carries the union of
// backing instances; thresholds combine per the registry's merge policy.
func (r *Registry) merge(responders []model.Responder) []model.MergedResponder {
	byName := make(map[string]*model.MergedResponder)
	for _, resp := range responders {
		m, ok := byName[resp.Name]
		if !ok {
			byName[resp.Name] = &model.MergedResponder{
				Name:        resp.Name,
				Description: resp.Description,
				MaxTLP:      resp.MaxTLP,
				MaxPAP:      resp.MaxPAP,
				Refs: []model.ResponderRef{
					{InstanceName: resp.InstanceName, ResponderID: resp.ID},
				},
			}
			continue
		}
		m.Refs = append(m.Refs, model.ResponderRef{InstanceName: resp.InstanceName, ResponderID: resp.ID})
		m.MaxTLP = r.combine(m.MaxTLP, resp.MaxTLP)
		m.MaxPAP = r.combine(m.MaxPAP, resp.MaxPAP)
	}

	merged := make([]model.MergedResponder, 0, len(byName))
	for _, m := range byName {
		merged = append(merged, *m)
	}
	// Set semantics on the wire; sorted here for stable API responses.
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Name < merged[j].Name
	})
	return merged
}

// combine folds one threshold into an accumulated one. nil means unlimited.
func (r *Registry) combine(acc, next *int) *int {
	if r.policy == MergeMostRestrictive {
		if acc == nil {
			return next
		}
		if next == nil {
			return acc
		}
		if *next < *acc {
			return next
		}
		return acc
	}

	// Most permissive: unlimited wins, otherwise the higher bound.
	if acc == nil || next == nil {
		return nil
	}
	if *next > *acc {
		return next
	}
	return acc
}
