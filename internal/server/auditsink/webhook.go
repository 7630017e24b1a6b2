// Package auditsink forwards committed audit events to an external
// endpoint as CloudEvents.
package auditsink

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"

	"github.com/dmitrijs2005/certkeeper/internal/logging"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

const (
	// TypePrefix precedes the audit event type in the CloudEvents type.
	TypePrefix = "dev.certkeeper.certificate."
	// Source identifies this service in emitted events.
	Source = "certkeeper/audit"

	defaultQueueSize = 1024
	sendTimeout      = 10 * time.Second
)

// Payload is the CloudEvents data of one audit event.
type Payload struct {
	ID            int64                `json:"id"`
	CertificateID string               `json:"certificate_id"`
	EventType     models.EventType     `json:"event_type"`
	ActorType     models.ActorType     `json:"actor_type"`
	ActorID       *string              `json:"actor_id,omitempty"`
	Metadata      models.AuditMetadata `json:"metadata"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// Webhook delivers events from a bounded queue on a background goroutine.
// Publish never blocks; events are dropped when the queue is full.
type Webhook struct {
	client cloudevents.Client
	log    logging.Logger
	events chan cloudevents.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewWebhook starts a dispatcher posting to url.
func NewWebhook(url string, queueSize int, log logging.Logger) (*Webhook, error) {
	p, err := cehttp.New(cehttp.WithTarget(url))
	if err != nil {
		return nil, fmt.Errorf("cloudevents protocol: %w", err)
	}
	c, err := cloudevents.NewClient(p, cloudevents.WithTimeNow(), cloudevents.WithUUIDs())
	if err != nil {
		return nil, fmt.Errorf("cloudevents client: %w", err)
	}
	return newWebhook(c, queueSize, log), nil
}

func newWebhook(c cloudevents.Client, queueSize int, log logging.Logger) *Webhook {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	w := &Webhook{
		client: c,
		log:    log.With("module", "auditsink"),
		events: make(chan cloudevents.Event, queueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// ToCloudEvent converts an audit event.
func ToCloudEvent(ev *models.AuditEvent) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetID(strconv.FormatInt(ev.ID, 10) + "-" + ev.CertificateUUID)
	e.SetSource(Source)
	e.SetType(TypePrefix + string(ev.EventType))
	e.SetSubject(ev.CertificateID)
	e.SetTime(ev.OccurredAt)
	err := e.SetData(cloudevents.ApplicationJSON, Payload{
		ID:            ev.ID,
		CertificateID: ev.CertificateID,
		EventType:     ev.EventType,
		ActorType:     ev.ActorType,
		ActorID:       ev.ActorID,
		Metadata:      ev.Metadata,
		OccurredAt:    ev.OccurredAt,
	})
	return e, err
}

func (w *Webhook) Publish(ctx context.Context, events ...*models.AuditEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	for _, ev := range events {
		e, err := ToCloudEvent(ev)
		if err != nil {
			w.log.Warn(ctx, "audit event not encoded", "certificate_id", ev.CertificateID, "error", err)
			continue
		}
		select {
		case w.events <- e:
		default:
			w.log.Warn(ctx, "audit webhook queue full, dropping event",
				"certificate_id", ev.CertificateID, "event_type", ev.EventType)
		}
	}
}

// Close stops accepting events and waits until queued ones are sent.
func (w *Webhook) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.events)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Webhook) loop() {
	defer w.wg.Done()
	for e := range w.events {
		w.send(e)
	}
}

func (w *Webhook) send(e cloudevents.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	res := w.client.Send(ctx, e)
	if !cloudevents.IsACK(res) {
		w.log.Warn(ctx, "audit webhook delivery failed", "type", e.Type(), "subject", e.Subject(), "error", res)
	}
}
