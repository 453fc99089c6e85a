package purchaseorder

import (
	negotiationdomain "github.com/smallbiznis/procura/internal/negotiation/domain"
	"github.com/smallbiznis/procura/internal/purchaseorder/domain"
	"github.com/smallbiznis/procura/internal/purchaseorder/repository"
	"github.com/smallbiznis/procura/internal/purchaseorder/service"
	"go.uber.org/fx"
)

var Module = fx.Module("purchaseorder.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(
		fx.Annotate(
			service.NewService,
			fx.As(new(domain.Service)),
			fx.As(new(negotiationdomain.AcceptanceHandler)),
		),
	),
)
