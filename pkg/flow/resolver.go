// Package flow resolves incoming discussions to their configured flow and
// routes detected tasks to the flow's outputs.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/services"
)

// ErrFlowNotFound indicates no active flow input (and no legacy config)
// matches the routing key. Non-retryable; surfaces as 404 to webhook callers.
var ErrFlowNotFound = errors.New("no flow matches routing key")

// Resolution is the discriminated result of a lookup: either a flow with its
// relations or a legacy config record, never both.
type Resolution struct {
	Flow   *models.FlowWithRelations
	Legacy *models.LegacyConfig
}

// TenantID returns the owning tenant regardless of shape.
func (r *Resolution) TenantID() string {
	if r.Legacy != nil {
		return r.Legacy.TenantID
	}
	return r.Flow.Flow.TenantID
}

// Resolver looks up the flow configuration for a routing key.
type Resolver struct {
	flows  *services.FlowService
	logger *slog.Logger
}

// NewResolver creates a resolver over the flow service.
func NewResolver(flows *services.FlowService) *Resolver {
	return &Resolver{
		flows:  flows,
		logger: slog.Default().With("component", "flow-resolver"),
	}
}

// Resolve finds the active flow input matching (sourceType, routingKey),
// loads the parent flow with its active inputs and outputs, and falls back to
// the legacy config table when no input matches. An inactive parent flow is
// an error, not a fallthrough.
func (r *Resolver) Resolve(ctx context.Context, sourceType models.SourceType, routingKey string) (*Resolution, error) {
	input, err := r.flows.FindActiveInputByRoutingKey(ctx, sourceType, routingKey)
	if errors.Is(err, services.ErrNotFound) {
		return r.resolveLegacy(ctx, sourceType, routingKey)
	}
	if err != nil {
		return nil, err
	}

	f, err := r.flows.GetFlow(ctx, input.FlowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow %s: %w", input.FlowID, err)
	}
	if !f.Active {
		return nil, fmt.Errorf("flow %s matched input %s but is inactive: %w", f.ID, input.ID, ErrFlowNotFound)
	}

	inputs, err := r.flows.ListActiveInputs(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	outputs, err := r.flows.ListActiveOutputs(ctx, f.ID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Resolved flow",
		"flow_id", f.ID,
		"tenant_id", f.TenantID,
		"source_type", sourceType,
		"routing_key", routingKey,
		"outputs", len(outputs))

	return &Resolution{
		Flow: &models.FlowWithRelations{
			Flow:         f,
			Inputs:       inputs,
			Outputs:      outputs,
			MatchedInput: input,
		},
	}, nil
}

func (r *Resolver) resolveLegacy(ctx context.Context, sourceType models.SourceType, routingKey string) (*Resolution, error) {
	cfg, err := r.flows.FindActiveLegacyConfig(ctx, sourceType, routingKey)
	if errors.Is(err, services.ErrNotFound) {
		return nil, fmt.Errorf("%w: source_type=%s routing_key=%s", ErrFlowNotFound, sourceType, routingKey)
	}
	if err != nil {
		return nil, err
	}
	r.logger.Info("Resolved legacy config",
		"config_id", cfg.ID,
		"tenant_id", cfg.TenantID,
		"source_type", sourceType,
		"routing_key", routingKey)
	return &Resolution{Legacy: cfg}, nil
}
