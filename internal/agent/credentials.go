package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bwmarrin/snowflake"
)

var ErrCredentialNotFound = errors.New("credential_not_found")

// CredentialSource resolves secrets for capability calls. Implementations
// may be backed by a secret manager; the state machines never see secrets.
type CredentialSource interface {
	Credential(ctx context.Context, orgID snowflake.ID, name string) (string, error)
}

// EnvCredentials reads PROCURA_<NAME>_<ORG_ID>, falling back to the
// organization-agnostic PROCURA_<NAME>.
type EnvCredentials struct {
	Prefix string
	lookup func(string) (string, bool)
}

func NewEnvCredentials() *EnvCredentials {
	return &EnvCredentials{Prefix: "PROCURA", lookup: os.LookupEnv}
}

func (e *EnvCredentials) Credential(_ context.Context, orgID snowflake.ID, name string) (string, error) {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(strings.TrimSpace(name)))
	if key == "" {
		return "", ErrCredentialNotFound
	}
	base := e.Prefix + "_" + key
	candidates := []string{base}
	if orgID != 0 {
		candidates = []string{fmt.Sprintf("%s_%d", base, orgID), base}
	}
	for _, candidate := range candidates {
		if value, ok := e.lookup(candidate); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrCredentialNotFound, name)
}
