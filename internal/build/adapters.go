package build

import (
	"context"

	"github.com/cochaviz/clickable/internal/container"
	"github.com/cochaviz/clickable/internal/project"
)

// EnvironmentPreparer provisions the environment a unit is built in.
type EnvironmentPreparer interface {
	Prepare(ctx context.Context, cfg *project.Config) (*container.Environment, error)
}

var _ EnvironmentPreparer = (*container.Manager)(nil)
