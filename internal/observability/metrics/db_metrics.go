package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const dbGaugeTimeout = 2 * time.Second

// dbGauges are sampled from Postgres on every scrape.
var dbGauges = []struct {
	name  string
	help  string
	query string
}{
	{"event_outbox_pending", "Pending outbox records", `SELECT COUNT(*) FROM event_outbox WHERE status = 'pending'`},
	{"event_dlq_count", "Dead letter queue records", `SELECT COUNT(*) FROM dead_letter_events`},
	{"active_cycles", "Billing cycles currently active", `SELECT COUNT(*) FROM billing_cycles WHERE status = 'active'`},
	{"cycles_over_quota", "Active cycles that already charged overage", `SELECT COUNT(*) FROM billing_cycles WHERE status = 'active' AND overage_orders > 0`},
	{"cycles_awaiting_rollover", "Active cycles whose period has ended", `SELECT COUNT(*) FROM billing_cycles WHERE status = 'active' AND period_end < CURRENT_DATE`},
}

func registerDBMetrics(db *sql.DB, logger zerolog.Logger) {
	for _, g := range dbGauges {
		query := g.query
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + g.name, Help: g.help},
			func() float64 { return queryCount(db, logger, query) },
		))
	}
}

// queryCount runs a COUNT query, reporting 0 when the database is unavailable.
func queryCount(db *sql.DB, logger zerolog.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbGaugeTimeout)
	defer cancel()
	var count int64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		logger.Warn().Err(err).Str("query", query).Msg("metrics query failed")
		return 0
	}
	return float64(max(count, 0))
}
