package agent

import (
	"github.com/smallbiznis/procura/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Capabilities bundles the implementations used by the state machines.
type Capabilities struct {
	fx.Out

	Scraper   Scraper
	Extractor Extractor
	Embedder  Embedder
	Email     EmailSender
}

var Module = fx.Module("agent",
	fx.Provide(
		fx.Annotate(NewEnvCredentials, fx.As(new(CredentialSource))),
		NewCapabilities,
	),
)

// NewCapabilities routes every capability to the agent runtime. Without a
// runtime URL each call fails fatally.
func NewCapabilities(cfg config.Config, workflow *config.WorkflowConfigHolder, creds CredentialSource, log *zap.Logger) Capabilities {
	policy := workflow.Get()
	if cfg.AgentRuntimeURL == "" {
		log.Named("agent").Warn("agent runtime not configured; capability calls will fail")
		var none Unavailable
		return Capabilities{Scraper: none, Extractor: none, Embedder: none, Email: none}
	}

	remote := NewRemote(cfg.AgentRuntimeURL, creds, cfg.AgentRuntimeTimeout)
	return Capabilities{
		Scraper:   remote,
		Extractor: remote,
		Embedder:  remote,
		Email:     NewPacedSender(remote, policy.EmailsPerSecond, policy.EmailBurst),
	}
}
