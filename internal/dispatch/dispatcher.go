package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/stackwatch/relay/internal/engine"
	"github.com/stackwatch/relay/internal/entity"
	"github.com/stackwatch/relay/internal/model"
	"github.com/stackwatch/relay/internal/registry"
	"github.com/stackwatch/relay/internal/store"
)

// Sensitivity defaults applied at dispatch time when the owning case cannot
// be resolved: amber/amber. Stricter than the discovery defaults on purpose;
// an entity of unknown sensitivity is still sent, but flagged as restricted.
const (
	dispatchDefaultTLP = 2
	dispatchDefaultPAP = 2
)

// Request is one execution request as submitted by a caller. Exactly one of
// ResponderID and ResponderName identifies the responder; Instance
// optionally pins resolution to a single engine instance.
type Request struct {
	EntityType    string          `json:"objectType"`
	EntityID      string          `json:"objectId"`
	ResponderID   string          `json:"responderId,omitempty"`
	ResponderName string          `json:"responderName,omitempty"`
	Instance      string          `json:"instance,omitempty"`
	Message       string          `json:"message,omitempty"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
	TLP           *int            `json:"tlp,omitempty"`
}

// Dispatcher resolves execution requests and submits responder jobs.
type Dispatcher struct {
	registry   *registry.Registry
	store      store.Store
	entities   entity.Store
	cases      entity.CaseResolver
	serializer *entity.Serializer
	poller     *Poller
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher wired to the given collaborators.
func NewDispatcher(reg *registry.Registry, s store.Store, entities entity.Store, cases entity.CaseResolver, poller *Poller, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:   reg,
		store:      s,
		entities:   entities,
		cases:      cases,
		serializer: entity.NewSerializer(),
		poller:     poller,
		logger:     logger,
	}
}

// Execute validates and dispatches one execution request. It returns the
// created Action as soon as the job is submitted and persisted; job
// completion is driven by the poller in the background. All validation and
// resolution errors surface synchronously; nothing that happens after this
// returns is ever raised to the caller.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (*model.Action, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	responder, inst, err := d.resolve(ctx, req)
	if err != nil {
		dispatchesTotal.WithLabelValues(outcomeResolveFailed).Inc()
		return nil, err
	}

	rec, err := d.entities.Get(ctx, req.EntityType, req.EntityID)
	if err != nil {
		dispatchesTotal.WithLabelValues(outcomeEntityMissing).Inc()
		return nil, fmt.Errorf("entity %s/%s: %w", req.EntityType, req.EntityID, model.ErrNotFound)
	}

	payload, err := d.serializer.Expand(rec)
	if err != nil {
		dispatchesTotal.WithLabelValues(outcomeError).Inc()
		return nil, err
	}

	tlp, pap := d.sensitivity(ctx, req)

	job, err := inst.Run(ctx, responder.ID, engine.RunRequest{
		Data:       payload,
		DataType:   model.DataType(req.EntityType),
		TLP:        tlp,
		PAP:        pap,
		Message:    req.Message,
		Parameters: req.Parameters,
	})
	if err != nil {
		dispatchesTotal.WithLabelValues(outcomeSubmitFailed).Inc()
		return nil, fmt.Errorf("submit job to %s: %w", inst.Name(), err)
	}

	action := &model.Action{
		ID:            model.NewID(),
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		ResponderID:   responder.ID,
		ResponderName: responder.Name,
		ResponderDef:  job.ResponderDef,
		InstanceName:  inst.Name(),
		JobID:         job.ID,
		Message:       req.Message,
		Parameters:    req.Parameters,
		TLP:           tlp,
		PAP:           pap,
		CreatedAt:     time.Now().UTC(),
	}

	if err := d.store.CreateAction(ctx, action); err != nil {
		dispatchesTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("create action: %w", err)
	}

	d.logger.Info("action dispatched",
		"action_id", action.ID,
		"responder", responder.Name,
		"instance", inst.Name(),
		"job_id", job.ID,
	)
	dispatchesTotal.WithLabelValues(outcomeDispatched).Inc()

	d.poller.Track(action, inst, rec)
	return action, nil
}

func validate(req Request) error {
	if req.EntityType == "" {
		return fmt.Errorf("objectType: %w", model.ErrMissingAttribute)
	}
	if req.EntityID == "" {
		return fmt.Errorf("objectId: %w", model.ErrMissingAttribute)
	}
	if req.ResponderID == "" && req.ResponderName == "" {
		return fmt.Errorf("responder is missing: %w", model.ErrBadRequest)
	}
	if req.ResponderID != "" && req.ResponderName != "" {
		return fmt.Errorf("responderId and responderName are mutually exclusive: %w", model.ErrBadRequest)
	}
	return nil
}

// resolve picks the concrete (responder, instance) pair. A pinned instance
// restricts resolution to that instance; otherwise the lookup races across
// the whole fleet and adopts the first instance that resolves it.
func (d *Dispatcher) resolve(ctx context.Context, req Request) (*model.Responder, *engine.Instance, error) {
	if req.Instance != "" {
		inst, err := d.registry.Instance(req.Instance)
		if err != nil {
			return nil, nil, err
		}
		if req.ResponderID != "" {
			responder, err := inst.Responder(ctx, req.ResponderID)
			return responder, inst, err
		}
		responder, err := inst.ResponderByName(ctx, req.ResponderName)
		return responder, inst, err
	}

	if req.ResponderID != "" {
		return d.registry.ResolveID(ctx, req.ResponderID)
	}
	return d.registry.ResolveName(ctx, req.ResponderName)
}

// sensitivity derives the TLP/PAP sent with the job from the entity's owning
// case, with amber/amber defaults when the lookup fails and a request-level
// TLP override.
func (d *Dispatcher) sensitivity(ctx context.Context, req Request) (int, int) {
	tlp, pap := dispatchDefaultTLP, dispatchDefaultPAP
	if c, err := d.cases.OwningCase(ctx, req.EntityType, req.EntityID); err == nil {
		tlp, pap = c.TLP, c.PAP
	} else {
		d.logger.Debug("case lookup failed, using dispatch defaults",
			"entity_type", req.EntityType,
			"entity_id", req.EntityID,
			"error", err,
		)
	}
	if req.TLP != nil {
		tlp = *req.TLP
	}
	return tlp, pap
}
