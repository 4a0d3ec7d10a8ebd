package source

import (
	"errors"

	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/plan"
)

// Source builds a plan from an external definition, registering the steps it defines into reg.
type Source interface {
	Load(reg *migration.Registry) (*plan.Plan, error)
}

var (
	ErrInvalidManifest = errors.New("invalid plan manifest")
	ErrInvalidStepName = errors.New("invalid step name")
	ErrInvalidScript   = errors.New("invalid script")
)
