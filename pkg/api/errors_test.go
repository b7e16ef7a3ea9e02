package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskbridge/taskbridge/pkg/flow"
	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/pipeline"
	"github.com/taskbridge/taskbridge/pkg/services"
	"github.com/taskbridge/taskbridge/pkg/source"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: services.NewValidationError("title", "is required"), want: http.StatusBadRequest},
		{name: "not found", err: services.ErrNotFound, want: http.StatusNotFound},
		{name: "wrapped not found", err: errors.New("wrap: " + services.ErrNotFound.Error()), want: http.StatusInternalServerError},
		{name: "already finalized", err: services.ErrAlreadyFinalized, want: http.StatusConflict},
		{name: "already exists", err: services.ErrAlreadyExists, want: http.StatusConflict},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.Equal(t, tt.want, he.Code)
		})
	}
}

func TestMapPipelineError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "parse error", err: &source.ParseError{Message: "bad payload"}, want: http.StatusBadRequest},
		{name: "flow not found", err: flow.ErrFlowNotFound, want: http.StatusNotFound},
		{
			name: "wrapped flow not found kind",
			err:  &pipeline.Error{Kind: pipeline.KindFlowNotFound, Stage: models.StageIngestion, Err: flow.ErrFlowNotFound},
			want: http.StatusNotFound,
		},
		{
			name: "validation kind",
			err:  &pipeline.Error{Kind: pipeline.KindValidation, Stage: models.StageIngestion, Err: errors.New("empty content")},
			want: http.StatusBadRequest,
		},
		{
			name: "rate limit kind",
			err:  &pipeline.Error{Kind: pipeline.KindRateLimit, Stage: models.StageIngestion, Err: errors.New("429")},
			want: http.StatusTooManyRequests,
		},
		{
			name: "transient kind",
			err:  &pipeline.Error{Kind: pipeline.KindTransient, Stage: models.StageIngestion, Err: errors.New("502")},
			want: http.StatusServiceUnavailable,
		},
		{
			name: "internal kind",
			err:  &pipeline.Error{Kind: pipeline.KindInternal, Stage: models.StageIngestion, Err: errors.New("boom")},
			want: http.StatusInternalServerError,
		},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapPipelineError(tt.err)
			assert.Equal(t, tt.want, he.Code)
		})
	}
}
