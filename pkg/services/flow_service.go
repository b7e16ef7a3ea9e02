package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// FlowService provides read access to flows, their inputs and outputs, and
// the legacy configs fallback.
type FlowService struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewFlowService creates a new FlowService.
func NewFlowService(db *sqlx.DB) *FlowService {
	return &FlowService{
		db:     db,
		logger: slog.Default().With("component", "flow-service"),
	}
}

// FindActiveInputByRoutingKey selects the active input matching the routing
// key for the given source type: workspace id for chat inputs, email slug for
// design-email inputs. Multiple matches are a data-integrity violation; the
// oldest row wins and the condition is logged.
func (s *FlowService) FindActiveInputByRoutingKey(ctx context.Context, sourceType models.SourceType, routingKey string) (*models.FlowInput, error) {
	var query string
	switch sourceType {
	case models.SourceTypeDesignEmail:
		query = `SELECT * FROM flow_inputs
			WHERE active AND source_type = $1 AND email_slug = $2
			ORDER BY created_at ASC`
	default:
		query = `SELECT * FROM flow_inputs
			WHERE active AND source_type = $1 AND source_metadata ->> 'workspace_id' = $2
			ORDER BY created_at ASC`
	}

	var inputs []*models.FlowInput
	if err := s.db.SelectContext(ctx, &inputs, query, sourceType, routingKey); err != nil {
		return nil, fmt.Errorf("failed to query flow inputs: %w", err)
	}
	if len(inputs) == 0 {
		return nil, ErrNotFound
	}
	if len(inputs) > 1 {
		s.logger.Error("Multiple active inputs match routing key, picking oldest",
			"source_type", sourceType,
			"routing_key", routingKey,
			"matches", len(inputs))
	}
	return inputs[0], nil
}

// GetFlow loads a flow by id.
func (s *FlowService) GetFlow(ctx context.Context, flowID string) (*models.Flow, error) {
	var flow models.Flow
	err := s.db.GetContext(ctx, &flow, `SELECT * FROM flows WHERE flow_id = $1`, flowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}
	return &flow, nil
}

// GetInput loads a single input by id.
func (s *FlowService) GetInput(ctx context.Context, inputID string) (*models.FlowInput, error) {
	var input models.FlowInput
	err := s.db.GetContext(ctx, &input, `SELECT * FROM flow_inputs WHERE input_id = $1`, inputID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow input: %w", err)
	}
	return &input, nil
}

// GetLegacyConfig loads a legacy config row by id.
func (s *FlowService) GetLegacyConfig(ctx context.Context, configID string) (*models.LegacyConfig, error) {
	var cfg models.LegacyConfig
	err := s.db.GetContext(ctx, &cfg, `SELECT * FROM configs WHERE config_id = $1`, configID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get legacy config: %w", err)
	}
	return &cfg, nil
}

// ListActiveInputs returns all active inputs of a flow.
func (s *FlowService) ListActiveInputs(ctx context.Context, flowID string) ([]*models.FlowInput, error) {
	var inputs []*models.FlowInput
	err := s.db.SelectContext(ctx, &inputs,
		`SELECT * FROM flow_inputs WHERE flow_id = $1 AND active ORDER BY created_at ASC`, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flow inputs: %w", err)
	}
	return inputs, nil
}

// ListActiveOutputs returns all active outputs of a flow.
func (s *FlowService) ListActiveOutputs(ctx context.Context, flowID string) ([]*models.FlowOutput, error) {
	var outputs []*models.FlowOutput
	err := s.db.SelectContext(ctx, &outputs,
		`SELECT * FROM flow_outputs WHERE flow_id = $1 AND active ORDER BY created_at ASC`, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flow outputs: %w", err)
	}
	return outputs, nil
}

// GetOutput loads a single output by id.
func (s *FlowService) GetOutput(ctx context.Context, outputID string) (*models.FlowOutput, error) {
	var output models.FlowOutput
	err := s.db.GetContext(ctx, &output, `SELECT * FROM flow_outputs WHERE output_id = $1`, outputID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow output: %w", err)
	}
	return &output, nil
}

// FindActiveLegacyConfig is the pre-flow fallback lookup: an active config row
// whose workspace id matches the routing key.
func (s *FlowService) FindActiveLegacyConfig(ctx context.Context, sourceType models.SourceType, routingKey string) (*models.LegacyConfig, error) {
	var configs []*models.LegacyConfig
	err := s.db.SelectContext(ctx, &configs,
		`SELECT * FROM configs
		WHERE active AND source_type = $1 AND source_metadata ->> 'workspace_id' = $2
		ORDER BY created_at ASC`, sourceType, routingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy configs: %w", err)
	}
	if len(configs) == 0 {
		return nil, ErrNotFound
	}
	return configs[0], nil
}
