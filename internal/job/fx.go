package job

import (
	"github.com/smallbiznis/procura/internal/job/domain"
	"github.com/smallbiznis/procura/internal/job/repository"
	"github.com/smallbiznis/procura/internal/job/service"
	"github.com/smallbiznis/procura/internal/quota"
	"go.uber.org/fx"
)

var Module = fx.Module("job.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(func(repo domain.Repository) quota.ActiveCounter { return repo }),
	fx.Provide(service.NewService),
)
