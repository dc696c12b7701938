package simd

import (
	"context"
	"errors"
	"net/http"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/control"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/experiment"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/solver"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
	"google.golang.org/grpc/codes"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunTerminal  = errors.New("run is terminal")
	ErrRunIDMissing = errors.New("run_id is required")
	ErrRunExists    = errors.New("run already exists")
	ErrInvalidURL   = errors.New("invalid callback URL")
)

// classify maps an experiment error onto the kind reported to clients.
// A per-run timeout counts as an integration failure.
func classify(err error) models.ErrorKind {
	switch {
	case err == nil:
		return models.ErrorKindNone
	case errors.Is(err, context.Canceled):
		return models.ErrorKindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrorKindIntegration
	case errors.Is(err, control.ErrConfig):
		return models.ErrorKindConfig
	case errors.Is(err, experiment.ErrContract), errors.Is(err, solver.ErrModelContract):
		return models.ErrorKindContract
	case errors.Is(err, solver.ErrIntegration):
		return models.ErrorKindIntegration
	default:
		return models.ErrorKindInternal
	}
}

func httpStatus(kind models.ErrorKind) int {
	switch kind {
	case models.ErrorKindConfig:
		return http.StatusBadRequest
	case models.ErrorKindIntegration:
		return http.StatusUnprocessableEntity
	case models.ErrorKindContract:
		return http.StatusBadGateway
	case models.ErrorKindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(kind models.ErrorKind) codes.Code {
	switch kind {
	case models.ErrorKindConfig:
		return codes.InvalidArgument
	case models.ErrorKindIntegration:
		return codes.Aborted
	case models.ErrorKindCancelled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}
