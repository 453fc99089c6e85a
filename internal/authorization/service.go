package authorization

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Authorize returns ErrForbidden unless actor may perform action on
	// object inside the organization. Actors are "system" or "user:<id>".
	Authorize(ctx context.Context, actor string, orgID snowflake.ID, object string, action string) error
}

var (
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
)

const ActorSystem = "system"

func UserActor(userID snowflake.ID) string {
	return fmt.Sprintf("user:%s", userID)
}
