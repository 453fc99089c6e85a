package webhook

import (
	"github.com/smallbiznis/procura/internal/webhook/repository"
	"github.com/smallbiznis/procura/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
