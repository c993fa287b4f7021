package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/stackwatch/relay/internal/engine"
	"github.com/stackwatch/relay/internal/entity"
	"github.com/stackwatch/relay/internal/model"
	"github.com/stackwatch/relay/internal/store"
)

// DefaultPollInterval is the per-attempt wait passed to the engine's
// long-poll status endpoint when none is configured.
const DefaultPollInterval = time.Minute

// Poller drives submitted jobs to a terminal state. One goroutine runs per
// tracked action, detached from any request; pollers share nothing but the
// store, and each action has exactly one poller writing to it.
type Poller struct {
	store    store.Store
	executor entity.OperationExecutor
	interval time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewPoller creates a poller with the given per-attempt wait.
func NewPoller(s store.Store, executor entity.OperationExecutor, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		store:    s,
		executor: executor,
		interval: interval,
		logger:   logger,
	}
}

// Track starts polling the action's job in a new goroutine and returns
// immediately. The goroutine operates on a copy of the action so later
// caller mutations cannot race with it.
func (p *Poller) Track(action *model.Action, inst *engine.Instance, rec *entity.Record) {
	aCopy := *action
	p.wg.Go(func() {
		p.poll(&aCopy, inst, rec)
	})
}

// Wait blocks until all in-flight pollers complete. Only useful in tests:
// a poller on an unreachable engine never finishes by design.
func (p *Poller) Wait() {
	p.wg.Wait()
}

// poll is the per-action state machine. Each loop iteration issues exactly
// one status check; checks within one action are strictly sequential. A
// transient failure retries forever at the fixed interval: this orchestrator
// never gives up waiting for a job it created, and a permanently unreachable
// instance stalls only this one action.
func (p *Poller) poll(action *model.Action, inst *engine.Instance, rec *entity.Record) {
	log := p.logger.With("action_id", action.ID, "job_id", action.JobID, "instance", inst.Name())

	for {
		job, err := inst.WaitJob(context.Background(), action.JobID, p.interval)
		switch {
		case errors.Is(err, engine.ErrJobNotFound):
			pollChecksTotal.WithLabelValues(checkUnknownJob).Inc()
			log.Warn("job unknown to instance, failing action")
			p.finalizeMissing(action)
			return
		case err != nil:
			pollChecksTotal.WithLabelValues(checkTransientError).Inc()
			log.Warn("job status check failed, will retry", "error", err)
			time.Sleep(p.interval)
			continue
		}

		if !model.JobTerminal(job.Status) {
			pollChecksTotal.WithLabelValues(checkPending).Inc()
			continue
		}

		pollChecksTotal.WithLabelValues(checkTerminal).Inc()
		p.finalize(action, job, rec, log)
		return
	}
}

// finalizeMissing terminates an action whose job the instance does not know.
// No operations run and no report is recorded.
func (p *Poller) finalizeMissing(action *model.Action) {
	now := time.Now().UTC()
	action.Status = model.ActionFailure
	action.EndedAt = &now

	if err := p.store.UpdateAction(context.Background(), action); err != nil {
		p.logger.Error("failed to persist action failure", "action_id", action.ID, "error", err)
	}
	actionsFinalizedTotal.WithLabelValues(action.Status).Inc()
}

// finalize applies a terminal job back onto the action: operations are
// extracted from the report and executed concurrently, their results
// recorded, and the action persisted with the operations field stripped
// from the report. A failing persistence update is logged, not retried; the
// action keeps its last successfully written state.
func (p *Poller) finalize(action *model.Action, job *model.Job, rec *entity.Record, log *slog.Logger) {
	ops, stripped := splitReport(job.Report)
	results := p.applyOperations(rec, ops)

	encoded, err := json.Marshal(results)
	if err != nil {
		log.Error("failed to encode operation results", "error", err)
		encoded = nil
	}

	now := time.Now().UTC()
	action.Status = model.ActionStatusForJob(job.Status)
	action.Report = stripped
	action.Operations = encoded
	action.EndedAt = &now

	if err := p.store.UpdateAction(context.Background(), action); err != nil {
		log.Error("failed to persist finalized action", "error", err)
	}
	actionsFinalizedTotal.WithLabelValues(action.Status).Inc()

	log.Info("action finalized",
		"status", action.Status,
		"operations", len(ops),
	)
}

// applyOperations invokes the executor once per operation concurrently and
// collects every result in order. One failing operation never aborts the
// others; executor errors become recorded failure results.
func (p *Poller) applyOperations(rec *entity.Record, ops []entity.Operation) []entity.OperationResult {
	if len(ops) == 0 {
		return []entity.OperationResult{}
	}

	results := make([]entity.OperationResult, len(ops))
	var wg sync.WaitGroup
	for idx, op := range ops {
		wg.Go(func() {
			res, err := p.executor.Apply(context.Background(), rec, op)
			if err != nil {
				res = entity.OperationResult{
					Operation: op,
					Status:    entity.OperationFailure,
					Message:   err.Error(),
				}
			}
			operationsTotal.WithLabelValues(res.Status).Inc()
			results[idx] = res
		})
	}
	wg.Wait()
	return results
}

// splitReport extracts the operations list from a job report and returns it
// together with the report re-encoded without the operations field. An
// absent or unparseable report yields no operations.
func splitReport(report json.RawMessage) ([]entity.Operation, json.RawMessage) {
	if len(report) == 0 {
		return nil, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(report, &decoded); err != nil {
		return nil, report
	}

	var ops []entity.Operation
	if rawOps, ok := decoded["operations"].([]any); ok {
		for _, rawOp := range rawOps {
			if m, ok := rawOp.(map[string]any); ok {
				ops = append(ops, entity.Operation(m))
			}
		}
	}
	delete(decoded, "operations")

	stripped, err := json.Marshal(decoded)
	if err != nil {
		return ops, nil
	}
	return ops, stripped
}
