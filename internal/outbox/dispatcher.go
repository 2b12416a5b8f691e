// Package outbox relays acquirer operations recorded by the transactional
// outbox. Events are written in the same database transaction as the domain
// change they describe, so this relay is the only component that talks to the
// acquirer for the async flow.
//
// Delivery is at-least-once: an event whose acquirer call succeeded but whose
// processed flag failed to persist is re-dispatched on the next pass. The
// acquirer idempotency key is the outbox event id, stable across
// re-dispatches, so the duplicate call replays the prior result instead of
// moving money twice.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/wells/bill-assistant-backend/internal/acquirer"
	"github.com/wells/bill-assistant-backend/internal/domain"
	"github.com/wells/bill-assistant-backend/internal/ledger"
	"github.com/wells/bill-assistant-backend/internal/repo"
)

// Defaults for the polling loop.
const (
	DefaultInterval  = 5 * time.Second
	DefaultBatchSize = 50
)

var (
	// outboxDispatched counts events by type and outcome
	// (authorized/captured/declined/retried/poison).
	outboxDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_dispatched_total",
			Help: "Total number of outbox events dispatched.",
		},
		[]string{"event_type", "outcome"},
	)

	// outboxBacklog gauges unprocessed events after each pass.
	outboxBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_backlog",
			Help: "Number of unprocessed outbox events.",
		},
	)
)

func init() {
	prometheus.MustRegister(outboxDispatched, outboxBacklog)
}

// Dispatcher polls the outbox and relays events to the acquirer.
type Dispatcher struct {
	DB        *gorm.DB
	Acquirer  acquirer.Client
	Ledger    *ledger.Service
	Interval  time.Duration
	BatchSize int
}

// New returns a dispatcher with default interval and batch size.
func New(db *gorm.DB, client acquirer.Client, led *ledger.Service) *Dispatcher {
	return &Dispatcher{
		DB:        db,
		Acquirer:  client,
		Ledger:    led,
		Interval:  DefaultInterval,
		BatchSize: DefaultBatchSize,
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", d.Interval).Msg("outbox dispatcher started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.Dispatch(ctx); err != nil {
				log.Error().Err(err).Msg("outbox pass failed")
			}
		}
	}
}

// Dispatch performs a single pass over unprocessed events, oldest first, and
// returns how many events reached a terminal outcome. A failed event does not
// stop the pass; events whose acquirer call could not complete stay
// unprocessed for the next pass.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	events, err := repo.ListUnprocessedEvents(ctx, d.DB, d.BatchSize)
	if err != nil {
		return 0, err
	}

	done := 0
	for i := range events {
		ev := &events[i]
		if err := d.dispatchOne(ctx, ev); err != nil {
			outboxDispatched.WithLabelValues(ev.EventType, "retried").Inc()
			log.Warn().Err(err).
				Str("event_id", ev.ID).
				Str("event_type", ev.EventType).
				Msg("outbox event deferred")
			continue
		}
		done++
	}

	if backlog, err := repo.CountUnprocessedEvents(ctx, d.DB); err == nil {
		outboxBacklog.Set(float64(backlog))
	}
	return done, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ev *domain.OutboxEvent) error {
	switch ev.EventType {
	case domain.EventAuthorizePayment:
		return d.handleAuthorize(ctx, ev)
	case domain.EventCapturePayment:
		return d.handleCapture(ctx, ev)
	default:
		// Unknown types cannot succeed on retry; park them as processed.
		log.Error().Str("event_id", ev.ID).Str("event_type", ev.EventType).Msg("unknown outbox event type")
		outboxDispatched.WithLabelValues(ev.EventType, "poison").Inc()
		return repo.MarkEventProcessed(ctx, d.DB, ev.ID)
	}
}

// handleAuthorize relays an AUTHORIZE_PAYMENT event. The payment moves to
// AUTHORIZED with the remote hold id on success, FAILED on decline. Transport
// errors leave the event unprocessed so the next pass retries with the same
// idempotency key.
func (d *Dispatcher) handleAuthorize(ctx context.Context, ev *domain.OutboxEvent) error {
	var payload domain.AuthorizePayload
	if err := json.Unmarshal([]byte(ev.Payload), &payload); err != nil {
		return d.poison(ctx, ev, err)
	}

	p, err := repo.GetPaymentByID(ctx, d.DB, payload.PaymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return d.poison(ctx, ev, err)
		}
		return err
	}
	if p.Status != domain.StatusCreated {
		// A previous dispatch already advanced the payment; only the
		// processed flag is missing.
		outboxDispatched.WithLabelValues(ev.EventType, "replayed").Inc()
		return repo.MarkEventProcessed(ctx, d.DB, ev.ID)
	}

	resp, err := d.Acquirer.Authorize(ctx, payload.CardToken, payload.Amount, payload.Currency, p.PaymentID, ev.ID)
	if err != nil {
		return err
	}

	if resp.Success {
		if err := repo.UpdatePaymentStatus(ctx, d.DB, p, domain.StatusAuthorized, map[string]any{
			"gateway_reference": resp.RemoteAuthID,
		}); err != nil {
			return err
		}
		d.Ledger.WriteReserve(ctx, p)
		outboxDispatched.WithLabelValues(ev.EventType, "authorized").Inc()
		log.Info().Str("payment_id", p.PaymentID).Str("auth_id", resp.RemoteAuthID).Msg("payment authorized")
	} else {
		if err := repo.UpdatePaymentStatus(ctx, d.DB, p, domain.StatusFailed, map[string]any{
			"failure_reason": resp.Reason,
		}); err != nil {
			return err
		}
		outboxDispatched.WithLabelValues(ev.EventType, "declined").Inc()
		log.Warn().Str("payment_id", p.PaymentID).Str("reason", resp.Reason).Msg("authorization declined")
	}
	return repo.MarkEventProcessed(ctx, d.DB, ev.ID)
}

// handleCapture relays a CAPTURE_PAYMENT event. The payment moves to CAPTURED
// on success and the settled bill is reconciled best-effort.
func (d *Dispatcher) handleCapture(ctx context.Context, ev *domain.OutboxEvent) error {
	var payload domain.CapturePayload
	if err := json.Unmarshal([]byte(ev.Payload), &payload); err != nil {
		return d.poison(ctx, ev, err)
	}

	p, err := repo.GetPaymentByID(ctx, d.DB, payload.PaymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return d.poison(ctx, ev, err)
		}
		return err
	}
	if p.Status != domain.StatusAuthorized {
		outboxDispatched.WithLabelValues(ev.EventType, "replayed").Inc()
		return repo.MarkEventProcessed(ctx, d.DB, ev.ID)
	}

	resp, err := d.Acquirer.Capture(ctx, payload.RemoteAuthID, payload.Amount, ev.ID)
	if err != nil {
		return err
	}

	if resp.Success {
		now := time.Now().UTC()
		if err := repo.UpdatePaymentStatus(ctx, d.DB, p, domain.StatusCaptured, map[string]any{
			"executed_at": now,
		}); err != nil {
			return err
		}
		d.Ledger.WriteCapture(ctx, p)
		if berr := repo.MarkBillPaid(ctx, d.DB, p.BillID, p.PaymentID); berr != nil {
			log.Warn().Err(berr).Str("payment_id", p.PaymentID).Str("bill_id", p.BillID).Msg("capture settled but bill reconciliation failed")
		}
		outboxDispatched.WithLabelValues(ev.EventType, "captured").Inc()
		log.Info().Str("payment_id", p.PaymentID).Msg("payment captured")
	} else {
		if err := repo.UpdatePaymentStatus(ctx, d.DB, p, domain.StatusFailed, map[string]any{
			"failure_reason": resp.Reason,
		}); err != nil {
			return err
		}
		outboxDispatched.WithLabelValues(ev.EventType, "declined").Inc()
		log.Warn().Str("payment_id", p.PaymentID).Str("reason", resp.Reason).Msg("capture declined")
	}
	return repo.MarkEventProcessed(ctx, d.DB, ev.ID)
}

// poison marks an event that can never succeed (malformed payload, vanished
// aggregate) as processed so it stops blocking the queue.
func (d *Dispatcher) poison(ctx context.Context, ev *domain.OutboxEvent, cause error) error {
	log.Error().Err(cause).Str("event_id", ev.ID).Str("event_type", ev.EventType).Msg("unprocessable outbox event")
	outboxDispatched.WithLabelValues(ev.EventType, "poison").Inc()
	return repo.MarkEventProcessed(ctx, d.DB, ev.ID)
}
