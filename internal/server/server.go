package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	"github.com/smallbiznis/procura/internal/authorization"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/config"
	jobdomain "github.com/smallbiznis/procura/internal/job/domain"
	negotiationdomain "github.com/smallbiznis/procura/internal/negotiation/domain"
	notificationdomain "github.com/smallbiznis/procura/internal/notification/domain"
	obslogger "github.com/smallbiznis/procura/internal/observability/logger"
	obstracing "github.com/smallbiznis/procura/internal/observability/tracing"
	orgdomain "github.com/smallbiznis/procura/internal/organization/domain"
	productdomain "github.com/smallbiznis/procura/internal/product/domain"
	purchaseorderdomain "github.com/smallbiznis/procura/internal/purchaseorder/domain"
	"github.com/smallbiznis/procura/internal/quota"
	"github.com/smallbiznis/procura/internal/ratelimit"
	supplierdomain "github.com/smallbiznis/procura/internal/supplier/domain"
	webhookdomain "github.com/smallbiznis/procura/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log.Named("http")))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	log             *zap.Logger
	clock           clock.Clock
	orgRepo         orgdomain.Repository
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	orgSvc          orgdomain.Service
	vendorSvc       supplierdomain.Service
	productSvc      productdomain.Service
	quota           *quota.Tracker
	jobSvc          jobdomain.Service
	negotiationSvc  negotiationdomain.Service
	poSvc           purchaseorderdomain.Service
	webhookSvc      webhookdomain.Service
	notificationSvc notificationdomain.Service
	ingressLimiter  *ratelimit.IngressLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Log             *zap.Logger
	Clock           clock.Clock
	OrgRepo         orgdomain.Repository
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	OrgSvc          orgdomain.Service
	VendorSvc       supplierdomain.Service
	ProductSvc      productdomain.Service
	Quota           *quota.Tracker
	JobSvc          jobdomain.Service
	NegotiationSvc  negotiationdomain.Service
	POSvc           purchaseorderdomain.Service
	WebhookSvc      webhookdomain.Service
	NotificationSvc notificationdomain.Service
	IngressLimiter  *ratelimit.IngressLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		log:             p.Log.Named("http.server"),
		clock:           p.Clock,
		orgRepo:         p.OrgRepo,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		orgSvc:          p.OrgSvc,
		vendorSvc:       p.VendorSvc,
		productSvc:      p.ProductSvc,
		quota:           p.Quota,
		jobSvc:          p.JobSvc,
		negotiationSvc:  p.NegotiationSvc,
		poSvc:           p.POSvc,
		webhookSvc:      p.WebhookSvc,
		notificationSvc: p.NotificationSvc,
		ingressLimiter:  p.IngressLimiter,
	}
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/webhooks/:source", s.LimitWebhookIngress(), s.IngestWebhook)
	api.POST("/organizations", s.RequireUser(), s.CreateOrganization)

	org := api.Group("", s.RequireUser(), s.RequireMember())
	org.GET("/organization", s.GetOrganization)
	org.PATCH("/organization/settings", s.authorizeOrgAction(authorization.ObjectSettings, authorization.ActionSettingsUpdate), s.UpdateOrganizationLimits)
	org.POST("/organization/members", s.authorizeOrgAction(authorization.ObjectSettings, authorization.ActionSettingsUpdate), s.AddOrganizationMember)

	org.GET("/vendors", s.ListVendors)
	org.POST("/vendors", s.authorizeOrgAction(authorization.ObjectSettings, authorization.ActionSettingsUpdate), s.CreateVendor)

	org.POST("/jobs", s.authorizeOrgAction(authorization.ObjectSearchJob, authorization.ActionSearchJobSubmit), s.SubmitJob)
	org.GET("/jobs", s.ListJobs)
	org.GET("/jobs/:id", s.GetJob)
	org.GET("/jobs/:id/progress", s.GetJobProgress)
	org.GET("/jobs/:id/products", s.ListJobProducts)
	org.POST("/jobs/:id/cancel", s.authorizeOrgAction(authorization.ObjectSearchJob, authorization.ActionSearchJobCancel), s.CancelJob)

	org.POST("/negotiations", s.CreateNegotiation)
	org.GET("/negotiations", s.ListNegotiations)
	org.GET("/negotiations/:id", s.GetNegotiation)
	org.POST("/negotiations/:id/request-approval", s.RequestNegotiationApproval)
	org.POST("/negotiations/:id/approve", s.ApproveNegotiation)
	org.POST("/negotiations/:id/send", s.SendNegotiation)
	org.POST("/negotiations/:id/replies", s.authorizeOrgAction(authorization.ObjectNegotiation, authorization.ActionNegotiationCreate), s.RecordNegotiationReply)
	org.POST("/negotiations/:id/accept", s.AcceptNegotiation)
	org.POST("/negotiations/:id/reject", s.RejectNegotiation)
	org.GET("/negotiations/:id/purchase-orders", s.ListPurchaseOrders)
	org.POST("/negotiations/:id/purchase-orders", s.GeneratePurchaseOrder)

	org.GET("/purchase-orders/:id", s.GetPurchaseOrder)
	org.GET("/purchase-orders/:id/pdf", s.RenderPurchaseOrder)
	org.POST("/purchase-orders/:id/approve", s.ApprovePurchaseOrder)
	org.POST("/purchase-orders/:id/send", s.SendPurchaseOrder)
	org.POST("/purchase-orders/:id/void", s.VoidPurchaseOrder)

	org.GET("/notifications", s.ListNotifications)
	org.POST("/notifications/:id/read", s.MarkNotificationRead)

	org.GET("/audit-logs", s.authorizeOrgAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
