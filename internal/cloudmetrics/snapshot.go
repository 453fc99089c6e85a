package cloudmetrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Snapshot refreshes accounting gauges from the database. Status gauges are
// reset on every refresh so statuses with no rows drop out.
type Snapshot struct {
	db *gorm.DB

	organizations  prometheus.Gauge
	searchJobs     *prometheus.GaugeVec
	negotiations   *prometheus.GaugeVec
	purchaseOrders *prometheus.GaugeVec
	pendingEvents  prometheus.Gauge
	monthlySpend   prometheus.Gauge
	monthlySearch  prometheus.Gauge
}

func NewSnapshot(db *gorm.DB, registry prometheus.Registerer, constLabels prometheus.Labels) (*Snapshot, error) {
	s := &Snapshot{
		db: db,
		organizations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "procura_organizations_total",
			Help:        "Active organizations.",
			ConstLabels: constLabels,
		}),
		searchJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "procura_search_jobs",
			Help:        "Search jobs by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		negotiations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "procura_negotiations",
			Help:        "Negotiations by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		purchaseOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "procura_purchase_orders",
			Help:        "Purchase orders by lifecycle state.",
			ConstLabels: constLabels,
		}, []string{"state"}),
		pendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "procura_webhook_events_pending",
			Help:        "Webhook events neither processed nor failed permanently.",
			ConstLabels: constLabels,
		}),
		monthlySpend: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "procura_spend_this_month_usd",
			Help:        "Agent spend recorded this month across organizations.",
			ConstLabels: constLabels,
		}),
		monthlySearch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "procura_searches_this_month",
			Help:        "Searches admitted this month across organizations.",
			ConstLabels: constLabels,
		}),
	}

	for _, c := range []prometheus.Collector{
		s.organizations, s.searchJobs, s.negotiations, s.purchaseOrders,
		s.pendingEvents, s.monthlySpend, s.monthlySearch,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

type statusCount struct {
	Status string
	N      int64
}

func (s *Snapshot) Refresh(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	var orgs int64
	if err := db.Table("organizations").Where("is_active = ?", true).Count(&orgs).Error; err != nil {
		return fmt.Errorf("count organizations: %w", err)
	}
	s.organizations.Set(float64(orgs))

	if err := s.refreshByStatus(db, "search_jobs", s.searchJobs); err != nil {
		return err
	}
	if err := s.refreshByStatus(db, "negotiations", s.negotiations); err != nil {
		return err
	}
	if err := s.refreshPurchaseOrders(db); err != nil {
		return err
	}

	var pending int64
	if err := db.Table("webhook_events").
		Where("processed = ? AND failed_permanently = ?", false, false).
		Count(&pending).Error; err != nil {
		return fmt.Errorf("count pending webhook events: %w", err)
	}
	s.pendingEvents.Set(float64(pending))

	var usage struct {
		Spend    decimal.NullDecimal
		Searches int64
	}
	if err := db.Table("organization_settings").
		Select("SUM(current_spend_this_month) AS spend, COALESCE(SUM(current_searches_this_month), 0) AS searches").
		Scan(&usage).Error; err != nil {
		return fmt.Errorf("sum usage: %w", err)
	}
	spend, _ := usage.Spend.Decimal.Float64()
	s.monthlySpend.Set(spend)
	s.monthlySearch.Set(float64(usage.Searches))
	return nil
}

func (s *Snapshot) refreshByStatus(db *gorm.DB, table string, gauge *prometheus.GaugeVec) error {
	var rows []statusCount
	if err := db.Table(table).Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return fmt.Errorf("count %s: %w", table, err)
	}
	gauge.Reset()
	for _, row := range rows {
		gauge.WithLabelValues(row.Status).Set(float64(row.N))
	}
	return nil
}

// Purchase orders have no status column; the state is derived from the
// approval, send and void markers.
func (s *Snapshot) refreshPurchaseOrders(db *gorm.DB) error {
	var rows []statusCount
	err := db.Table("purchase_orders").Select(`CASE
		WHEN voided_at IS NOT NULL THEN 'void'
		WHEN is_sent_to_vendor THEN 'sent'
		WHEN approved_by_user THEN 'approved'
		ELSE 'draft' END AS status, COUNT(*) AS n`).
		Group("status").Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("count purchase_orders: %w", err)
	}
	s.purchaseOrders.Reset()
	for _, row := range rows {
		s.purchaseOrders.WithLabelValues(row.Status).Set(float64(row.N))
	}
	return nil
}
