package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/agent"
	"github.com/smallbiznis/procura/internal/audit"
	"github.com/smallbiznis/procura/internal/authorization"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/config"
	"github.com/smallbiznis/procura/internal/entitylock"
	"github.com/smallbiznis/procura/internal/job"
	"github.com/smallbiznis/procura/internal/negotiation"
	"github.com/smallbiznis/procura/internal/notification"
	"github.com/smallbiznis/procura/internal/observability"
	"github.com/smallbiznis/procura/internal/orchestrator"
	"github.com/smallbiznis/procura/internal/organization"
	"github.com/smallbiznis/procura/internal/product"
	"github.com/smallbiznis/procura/internal/purchaseorder"
	"github.com/smallbiznis/procura/internal/quota"
	"github.com/smallbiznis/procura/internal/ratelimit"
	"github.com/smallbiznis/procura/internal/supplier"
	"github.com/smallbiznis/procura/internal/webhook"
	"github.com/smallbiznis/procura/pkg/db"
	"go.uber.org/fx"
)

// The worker runs the orchestrator loop without serving HTTP, so several
// replicas can share the backlog behind the entity locks.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		audit.Module,
		authorization.Module,
		notification.Module,
		organization.Module,
		supplier.Module,
		product.Module,
		quota.Module,
		entitylock.Module,
		ratelimit.Module,
		agent.Module,
		job.Module,
		negotiation.Module,
		purchaseorder.Module,
		webhook.Module,

		// No server module.
		orchestrator.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNodeID)
}
