package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// WorkflowConfig carries the tunable policy of the job and negotiation
// state machines. It is hot-reloaded from workflow.yaml.
type WorkflowConfig struct {
	RetryBaseDelay time.Duration `mapstructure:"retryBaseDelay"`
	RetryMaxDelay  time.Duration `mapstructure:"retryMaxDelay"`

	CapabilityTimeout time.Duration `mapstructure:"capabilityTimeout"`

	FollowUpInterval    time.Duration `mapstructure:"followUpInterval"`
	DefaultMaxFollowUps int           `mapstructure:"defaultMaxFollowUps"`
	NegotiationTTL      time.Duration `mapstructure:"negotiationTTL"`
	MaxDispatchAttempts int           `mapstructure:"maxDispatchAttempts"`
	EmailsPerSecond     float64       `mapstructure:"emailsPerSecond"`
	EmailBurst          int           `mapstructure:"emailBurst"`

	WebhookMaxAttempts    int           `mapstructure:"webhookMaxAttempts"`
	WebhookRetryBaseDelay time.Duration `mapstructure:"webhookRetryBaseDelay"`
	WebhookRetryMaxDelay  time.Duration `mapstructure:"webhookRetryMaxDelay"`

	POTaxRate        string `mapstructure:"poTaxRate"`
	POShippingCost   string `mapstructure:"poShippingCost"`
	PONumberTemplate string `mapstructure:"poNumberTemplate"`
}

func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		RetryBaseDelay:        10 * time.Second,
		RetryMaxDelay:         10 * time.Minute,
		CapabilityTimeout:     30 * time.Second,
		FollowUpInterval:      72 * time.Hour,
		DefaultMaxFollowUps:   3,
		NegotiationTTL:        14 * 24 * time.Hour,
		MaxDispatchAttempts:   5,
		EmailsPerSecond:       2,
		EmailBurst:            5,
		WebhookMaxAttempts:    5,
		WebhookRetryBaseDelay: 30 * time.Second,
		WebhookRetryMaxDelay:  30 * time.Minute,
		POTaxRate:             "0",
		POShippingCost:        "0",
		PONumberTemplate:      "PO-{YYYY}-{SEQ4}",
	}
}

// TaxRate returns the PO tax rate as a fraction (0.1 = 10%).
func (c WorkflowConfig) TaxRate() decimal.Decimal {
	return decimal.RequireFromString(c.POTaxRate)
}

func (c WorkflowConfig) ShippingCost() decimal.Decimal {
	return decimal.RequireFromString(c.POShippingCost)
}

// RetryDelay computes base*2^attempt capped at RetryMaxDelay.
func (c WorkflowConfig) RetryDelay(attempt int) time.Duration {
	return Backoff(c.RetryBaseDelay, c.RetryMaxDelay, attempt)
}

func (c WorkflowConfig) WebhookRetryDelay(attempt int) time.Duration {
	return Backoff(c.WebhookRetryBaseDelay, c.WebhookRetryMaxDelay, attempt)
}

// Backoff returns base*2^attempt, never exceeding max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

type WorkflowConfigHolder struct {
	current atomic.Value // holds WorkflowConfig
}

// NewStaticWorkflowConfig returns a holder that never reloads.
func NewStaticWorkflowConfig(cfg WorkflowConfig) *WorkflowConfigHolder {
	holder := &WorkflowConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewWorkflowConfigHolder(log *zap.Logger) (*WorkflowConfigHolder, error) {
	log = log.Named("config.workflow")
	v := viper.New()

	v.SetConfigName("workflow")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/procura")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PROCURA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setWorkflowDefaults(v, DefaultWorkflowConfig())

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeWorkflowConfig(v)
	if err != nil {
		return nil, err
	}
	if err := validateWorkflowConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticWorkflowConfig(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeWorkflowConfig(v)
		if err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateWorkflowConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *WorkflowConfigHolder) Get() WorkflowConfig {
	return h.current.Load().(WorkflowConfig)
}

// decodeWorkflowConfig goes through AllSettings so file values merge with defaults.
func decodeWorkflowConfig(v *viper.Viper) (WorkflowConfig, error) {
	var file struct {
		Workflow WorkflowConfig `mapstructure:"workflow"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return WorkflowConfig{}, err
	}
	return file.Workflow, nil
}

func setWorkflowDefaults(v *viper.Viper, d WorkflowConfig) {
	v.SetDefault("workflow.retryBaseDelay", d.RetryBaseDelay)
	v.SetDefault("workflow.retryMaxDelay", d.RetryMaxDelay)
	v.SetDefault("workflow.capabilityTimeout", d.CapabilityTimeout)
	v.SetDefault("workflow.followUpInterval", d.FollowUpInterval)
	v.SetDefault("workflow.defaultMaxFollowUps", d.DefaultMaxFollowUps)
	v.SetDefault("workflow.negotiationTTL", d.NegotiationTTL)
	v.SetDefault("workflow.maxDispatchAttempts", d.MaxDispatchAttempts)
	v.SetDefault("workflow.emailsPerSecond", d.EmailsPerSecond)
	v.SetDefault("workflow.emailBurst", d.EmailBurst)
	v.SetDefault("workflow.webhookMaxAttempts", d.WebhookMaxAttempts)
	v.SetDefault("workflow.webhookRetryBaseDelay", d.WebhookRetryBaseDelay)
	v.SetDefault("workflow.webhookRetryMaxDelay", d.WebhookRetryMaxDelay)
	v.SetDefault("workflow.poTaxRate", d.POTaxRate)
	v.SetDefault("workflow.poShippingCost", d.POShippingCost)
	v.SetDefault("workflow.poNumberTemplate", d.PONumberTemplate)
}

func validateWorkflowConfig(cfg WorkflowConfig) error {
	var errs []error
	if cfg.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("workflow.retryBaseDelay must be positive"))
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		errs = append(errs, errors.New("workflow.retryMaxDelay must be >= retryBaseDelay"))
	}
	if cfg.CapabilityTimeout <= 0 {
		errs = append(errs, errors.New("workflow.capabilityTimeout must be positive"))
	}
	if cfg.FollowUpInterval <= 0 {
		errs = append(errs, errors.New("workflow.followUpInterval must be positive"))
	}
	if cfg.DefaultMaxFollowUps < 0 {
		errs = append(errs, errors.New("workflow.defaultMaxFollowUps cannot be negative"))
	}
	if cfg.MaxDispatchAttempts <= 0 {
		errs = append(errs, errors.New("workflow.maxDispatchAttempts must be positive"))
	}
	if cfg.WebhookMaxAttempts <= 0 {
		errs = append(errs, errors.New("workflow.webhookMaxAttempts must be positive"))
	}
	if cfg.EmailsPerSecond <= 0 || cfg.EmailBurst <= 0 {
		errs = append(errs, errors.New("workflow.emailsPerSecond and emailBurst must be positive"))
	}
	for key, raw := range map[string]string{"poTaxRate": cfg.POTaxRate, "poShippingCost": cfg.POShippingCost} {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			errs = append(errs, errors.New("workflow."+key+" must be a decimal"))
			continue
		}
		if value.IsNegative() {
			errs = append(errs, errors.New("workflow."+key+" cannot be negative"))
		}
	}
	if !strings.Contains(cfg.PONumberTemplate, "{SEQ") {
		errs = append(errs, errors.New("workflow.poNumberTemplate must contain a {SEQn} token"))
	}
	return errors.Join(errs...)
}
