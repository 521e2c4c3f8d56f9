// Package dispatch fans a batch of outbound emails out to the mail provider.
// Items are independent: one failure never aborts its siblings, and the
// result is always a full partition of the batch into sent, failed and
// already-sent. The orchestrator holds no state across calls; persisting
// outcomes is the caller's job.
package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mkarev/realtor-outreach/internal/mailer"
	"github.com/mkarev/realtor-outreach/internal/metrics"
	"github.com/mkarev/realtor-outreach/internal/platform/logger"
)

// Item is one outbound email. A non-empty SentRef marks a prior successful
// dispatch; such items are skipped and reported as already sent, which makes
// re-running a sweep safe.
type Item struct {
	ID        string
	Recipient string
	ToName    string
	Subject   string
	Body      string
	SentRef   string
}

// Delivery records one accepted send.
type Delivery struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider_id"`
}

// Failure records one rejected send.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Result partitions a batch. len(Sent)+len(Failed)+len(AlreadySent) always
// equals the batch size.
type Result struct {
	Sent        []Delivery `json:"sent"`
	Failed      []Failure  `json:"failed"`
	AlreadySent []string   `json:"already_sent"`
}

// Dispatcher sends batches through a Sender with bounded concurrency.
type Dispatcher struct {
	sender  mailer.Sender
	limit   int
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New builds a Dispatcher. limit bounds in-flight sends; values below 1 are
// raised to 1. Metrics may be nil.
func New(sender mailer.Sender, limit int, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if limit < 1 {
		limit = 1
	}
	return &Dispatcher{sender: sender, limit: limit, log: log, metrics: m}
}

// Dispatch sends every item in the batch. Cancelling ctx stops issuing
// further items; items already handed to the sender run to completion and
// unissued items are reported as failed with the context error. No item is
// retried here; retry policy belongs to the calling sweep.
func (d *Dispatcher) Dispatch(ctx context.Context, items []Item) Result {
	var res Result
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(d.limit)

	for _, it := range items {
		if it.SentRef != "" {
			res.AlreadySent = append(res.AlreadySent, it.ID)
			d.count(func(m *metrics.Metrics) { m.DispatchSkipped.Inc() })
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, Failure{ID: it.ID, Reason: err.Error()})
			d.count(func(m *metrics.Metrics) { m.DispatchFailed.Inc() })
			continue
		}

		it := it
		g.Go(func() error {
			providerID, err := d.sender.Send(ctx, mailer.Message{
				To:      it.Recipient,
				ToName:  it.ToName,
				Subject: it.Subject,
				Body:    it.Body,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.log.Warn("dispatch item failed", "id", it.ID, "recipient", it.Recipient, "err", err)
				res.Failed = append(res.Failed, Failure{ID: it.ID, Reason: err.Error()})
				d.count(func(m *metrics.Metrics) { m.DispatchFailed.Inc() })
				return nil
			}
			res.Sent = append(res.Sent, Delivery{ID: it.ID, ProviderID: providerID})
			d.count(func(m *metrics.Metrics) { m.DispatchSent.Inc() })
			return nil
		})
	}

	_ = g.Wait()
	return res
}

func (d *Dispatcher) count(f func(*metrics.Metrics)) {
	if d.metrics != nil {
		f(d.metrics)
	}
}
