package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/procura/internal/organization/domain"
	orgrepository "github.com/smallbiznis/procura/internal/organization/repository"
	"github.com/smallbiznis/procura/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuthorizeByRole(t *testing.T) {
	db := dbtest.Open(t, &orgdomain.OrganizationMember{})
	repo := orgrepository.NewRepository(db)
	ctx := context.Background()
	orgID := snowflake.ID(10)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	members := map[snowflake.ID]string{
		21: orgdomain.RoleMember,
		22: orgdomain.RoleManager,
		23: orgdomain.RoleAdmin,
	}
	id := snowflake.ID(100)
	for userID, role := range members {
		id++
		require.NoError(t, repo.AddMember(ctx, &orgdomain.OrganizationMember{
			ID: id, OrgID: orgID, UserID: userID, Role: role, CreatedAt: now,
		}))
	}

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	svc := NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, OrgRepo: repo})

	tests := []struct {
		name   string
		actor  string
		object string
		action string
		want   error
	}{
		{"member submits", UserActor(21), ObjectSearchJob, ActionSearchJobSubmit, nil},
		{"member cannot approve", UserActor(21), ObjectNegotiation, ActionNegotiationApprove, ErrForbidden},
		{"manager approves negotiation", UserActor(22), ObjectNegotiation, ActionNegotiationApprove, nil},
		{"manager cannot approve po", UserActor(22), ObjectPurchaseOrder, ActionPurchaseOrderApprove, ErrForbidden},
		{"admin approves po", UserActor(23), ObjectPurchaseOrder, ActionPurchaseOrderApprove, nil},
		{"stranger", UserActor(99), ObjectSearchJob, ActionSearchJobSubmit, ErrForbidden},
		{"system cancels", ActorSystem, ObjectSearchJob, ActionSearchJobCancel, nil},
		{"system cannot approve", ActorSystem, ObjectNegotiation, ActionNegotiationApprove, ErrForbidden},
		{"malformed actor", "robot:1", ObjectSearchJob, ActionSearchJobSubmit, ErrInvalidActor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tt.actor, orgID, tt.object, tt.action)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.ErrorIs(t, svc.Authorize(ctx, UserActor(21), 0, ObjectSearchJob, ActionSearchJobSubmit), ErrInvalidOrganization)
}

func TestRoleChangeReplacesGrouping(t *testing.T) {
	db := dbtest.Open(t, &orgdomain.OrganizationMember{})
	repo := orgrepository.NewRepository(db)
	ctx := context.Background()
	orgID := snowflake.ID(10)

	member := &orgdomain.OrganizationMember{ID: 1, OrgID: orgID, UserID: 21, Role: orgdomain.RoleManager, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.AddMember(ctx, member))

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	svc := NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, OrgRepo: repo})

	require.NoError(t, svc.Authorize(ctx, UserActor(21), orgID, ObjectNegotiation, ActionNegotiationApprove))

	require.NoError(t, db.Model(member).Update("role", orgdomain.RoleMember).Error)
	assert.ErrorIs(t, svc.Authorize(ctx, UserActor(21), orgID, ObjectNegotiation, ActionNegotiationApprove), ErrForbidden)
}
