package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	"github.com/smallbiznis/procura/internal/entityref"
	orgdomain "github.com/smallbiznis/procura/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectSearchJob     = "search_job"
	ObjectNegotiation   = "negotiation"
	ObjectPurchaseOrder = "purchase_order"
	ObjectSettings      = "organization_settings"
	ObjectAuditLog      = "audit_log"
)

const (
	ActionSearchJobSubmit = "search_job.submit"
	ActionSearchJobCancel = "search_job.cancel"

	ActionNegotiationCreate  = "negotiation.create"
	ActionNegotiationApprove = "negotiation.approve"
	ActionNegotiationAccept  = "negotiation.accept"
	ActionNegotiationReject  = "negotiation.reject"

	ActionPurchaseOrderGenerate = "purchase_order.generate"
	ActionPurchaseOrderApprove  = "purchase_order.approve"
	ActionPurchaseOrderVoid     = "purchase_order.void"
	ActionPurchaseOrderSend     = "purchase_order.send"

	ActionSettingsUpdate = "organization_settings.update"
	ActionAuditLogView   = "audit_log.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	OrgRepo  orgdomain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	orgRepo  orgdomain.Repository
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		orgRepo:  p.OrgRepo,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID snowflake.ID, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	if orgID == 0 {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorID, err := s.resolveActor(ctx, actor, orgID)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			s.auditDecision(ctx, false, actorID, orgID, object, action)
		}
		return err
	}

	domain := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDecision(ctx, false, actorID, orgID, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditDecision(ctx, true, actorID, orgID, object, action)
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, orgID snowflake.ID) (string, string, *snowflake.ID, error) {
	if actor == ActorSystem {
		return actor, "role:system", nil, nil
	}
	if !strings.HasPrefix(actor, "user:") {
		return "", "", nil, ErrInvalidActor
	}
	userID, err := snowflake.ParseString(strings.TrimPrefix(actor, "user:"))
	if err != nil || userID == 0 {
		return "", "", nil, ErrInvalidActor
	}

	role, err := s.orgRepo.FindMemberRole(ctx, orgID, userID)
	if errors.Is(err, orgdomain.ErrNotMember) {
		return actor, "", &userID, ErrForbidden
	}
	if err != nil {
		return actor, "", &userID, err
	}
	return actor, "role:" + strings.ToLower(strings.TrimSpace(role)), &userID, nil
}

// ensureGrouping keeps exactly one role link per subject and organization,
// replacing a stale one after a role change.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			s.log.Warn("failed to remove stale role link", zap.String("subject", subject), zap.Error(err))
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDecision(ctx context.Context, granted bool, actorID *snowflake.ID, orgID snowflake.ID, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	name := "authorization.denied"
	if granted {
		name = "authorization.granted"
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:   orgID,
		ActorID: actorID,
		Action:  name,
		Target:  entityref.New(entityref.KindOrganization, orgID),
		Metadata: map[string]any{
			"object": object,
			"action": action,
		},
	})
	if err != nil {
		s.log.Warn("failed to audit authorization decision", zap.String("action", action), zap.Error(err))
	}
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionNegotiationApprove, ActionPurchaseOrderApprove, ActionPurchaseOrderVoid:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	memberActions := [][2]string{
		{ObjectSearchJob, ActionSearchJobSubmit},
		{ObjectSearchJob, ActionSearchJobCancel},
		{ObjectNegotiation, ActionNegotiationCreate},
	}
	managerActions := slices.Concat(memberActions, [][2]string{
		{ObjectNegotiation, ActionNegotiationApprove},
		{ObjectNegotiation, ActionNegotiationAccept},
		{ObjectNegotiation, ActionNegotiationReject},
		{ObjectPurchaseOrder, ActionPurchaseOrderGenerate},
		{ObjectPurchaseOrder, ActionPurchaseOrderSend},
	})
	adminActions := slices.Concat(managerActions, [][2]string{
		{ObjectPurchaseOrder, ActionPurchaseOrderApprove},
		{ObjectPurchaseOrder, ActionPurchaseOrderVoid},
		{ObjectSettings, ActionSettingsUpdate},
		{ObjectAuditLog, ActionAuditLogView},
	})

	grants := map[string][][2]string{
		"role:member":  memberActions,
		"role:manager": managerActions,
		"role:admin":   adminActions,
		"role:owner":   adminActions,
		// Automated processes.
		"role:system": {
			{ObjectSearchJob, ActionSearchJobCancel},
			{ObjectPurchaseOrder, ActionPurchaseOrderGenerate},
		},
	}

	for role, actions := range grants {
		for _, a := range actions {
			if _, err := enforcer.AddPolicy(role, a[0], a[1]); err != nil {
				return err
			}
		}
	}
	return nil
}
