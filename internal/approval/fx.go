package approval

import (
	"github.com/smallbiznis/atrium/internal/approval/repository"
	"github.com/smallbiznis/atrium/internal/approval/service"
	"go.uber.org/fx"
)

var Module = fx.Module("approval.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
