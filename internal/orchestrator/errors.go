package orchestrator

import "errors"

var ErrInvalidConfig = errors.New("invalid_orchestrator_config")
