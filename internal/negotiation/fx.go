package negotiation

import (
	"github.com/smallbiznis/procura/internal/negotiation/repository"
	"github.com/smallbiznis/procura/internal/negotiation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("negotiation.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
