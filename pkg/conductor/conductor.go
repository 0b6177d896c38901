package conductor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/coredb-io/conductor/pkg/apply"
	"github.com/coredb-io/conductor/pkg/events"
	"github.com/coredb-io/conductor/pkg/metadata"
	"github.com/coredb-io/conductor/pkg/monitoring"
	"github.com/coredb-io/conductor/pkg/queue"
	"github.com/coredb-io/conductor/pkg/watcher"
)

// Config carries the runtime parameters of the reconciliation loop.
type Config struct {
	// DataPlaneID identifies this data plane on every status report.
	DataPlaneID string

	// RequestQueue is the queue lifecycle events arrive on.
	RequestQueue string

	// ReportQueue is the queue status reports are sent to.
	ReportQueue string

	// BaseDomain is appended to the resource name to form the external
	// connection hostname.
	BaseDomain string

	// Workers is the number of concurrent message processors.
	Workers int

	// VisibilityTimeout is the message lease duration. It must exceed the
	// readiness timeout, otherwise an in-flight message can be leased twice.
	VisibilityTimeout time.Duration

	// ReadinessTimeout bounds how long a worker waits for an applied
	// instance to become connectable.
	ReadinessTimeout time.Duration

	// PollInterval is how long a worker idles when the queue is empty.
	PollInterval time.Duration

	// Defaults fills sizing fields the control plane leaves out.
	Defaults apply.Defaults
}

// Conductor consumes lifecycle events and reconciles managed instances.
type Conductor struct {
	queue   queue.Queue
	engine  *apply.Engine
	watcher *watcher.Watcher
	cfg     Config
	keys    *keyMutex
	log     logr.Logger
}

// New creates a conductor over the given queue and cluster client.
func New(q queue.Queue, k8s client.WithWatch, cfg Config, log logr.Logger) *Conductor {
	log = log.WithName("conductor")
	return &Conductor{
		queue:   q,
		engine:  apply.NewEngine(k8s, log),
		watcher: watcher.New(k8s, log),
		cfg:     cfg,
		keys:    newKeyMutex(),
		log:     log,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and every
// worker has drained.
func (c *Conductor) Run(ctx context.Context) error {
	c.log.Info("Starting conductor",
		"workers", c.cfg.Workers,
		"requestQueue", c.cfg.RequestQueue,
		"reportQueue", c.cfg.ReportQueue,
		"dataPlaneID", c.cfg.DataPlaneID)

	var wg sync.WaitGroup
	for i := range c.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, i)
		}()
	}
	wg.Wait()

	c.log.Info("Conductor stopped")
	return nil
}

func (c *Conductor) worker(ctx context.Context, id int) {
	log := c.log.WithValues("worker", id)
	for ctx.Err() == nil {
		msg, err := c.queue.Read(ctx, c.cfg.RequestQueue, c.cfg.VisibilityTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error(err, "Failed to read from queue")
			c.sleep(ctx, c.cfg.PollInterval)
			continue
		}
		if msg == nil {
			c.sleep(ctx, c.cfg.PollInterval)
			continue
		}
		if delay := c.process(ctx, log, msg); delay > 0 {
			c.sleep(ctx, delay)
		}
	}
}

// process handles one leased message end to end. The returned duration is a
// backoff the worker observes before its next read; zero means the message
// reached a final state.
func (c *Conductor) process(ctx context.Context, log logr.Logger, msg *queue.Message) time.Duration {
	evt, err := events.Parse(msg.Payload)
	if err != nil {
		monitoring.RecordEventFailure("unknown", monitoring.FailurePermanent)
		log.Error(err, "Rejecting malformed message", "msgID", msg.ID)
		c.reject(ctx, log, msg, events.RecoverEventID(msg.Payload), err)
		return 0
	}

	mt := string(evt.MessageType)
	monitoring.RecordEventReceived(mt)

	if err := evt.Validate(); err != nil {
		monitoring.RecordEventFailure(mt, monitoring.FailurePermanent)
		log.Error(err, "Rejecting invalid event", "msgID", msg.ID, "eventID", evt.EventID)
		c.reject(ctx, log, msg, evt.EventID, err)
		return 0
	}

	log = log.WithValues(
		"eventID", evt.EventID,
		"messageType", evt.MessageType,
		"resource", evt.Body.ResourceName,
		"deliveries", msg.ReadCount)

	ctx, span := monitoring.StartMessageSpan(ctx, mt, evt.EventID, evt.Body.ResourceName)

	key := evt.Key()
	c.keys.Lock(key)
	report, err := c.dispatch(ctx, log, evt)
	c.keys.Unlock(key)
	monitoring.EndSpan(span, err)

	if err != nil {
		if isPermanent(err) || apply.IsRejected(err) {
			monitoring.RecordEventFailure(mt, monitoring.FailurePermanent)
			log.Error(err, "Event failed permanently")
			c.reject(ctx, log, msg, evt.EventID, err)
			return 0
		}
		monitoring.RecordEventFailure(mt, monitoring.FailureTransient)
		if apply.IsRetryable(err) {
			log.Info("Transient failure, leaving message for redelivery", "error", err.Error())
		} else {
			log.Error(err, "Event failed, leaving message for redelivery")
		}
		return backoffDuration(msg.ReadCount)
	}

	if err := c.ack(ctx, msg, report); err != nil {
		monitoring.RecordEventFailure(mt, monitoring.FailureTransient)
		log.Error(err, "Failed to ack event, leaving message for redelivery")
		return backoffDuration(msg.ReadCount)
	}

	monitoring.ObserveMessageDeliveries(msg.ReadCount)
	log.Info("Event processed")
	return 0
}

func (c *Conductor) dispatch(ctx context.Context, log logr.Logger, evt *events.LifecycleEvent) (*events.StatusReport, error) {
	switch evt.MessageType {
	case events.EventCreate, events.EventUpdate:
		return c.applyEvent(ctx, evt)
	case events.EventRestart:
		return c.restartEvent(ctx, evt)
	case events.EventDelete:
		return c.deleteEvent(ctx, log, evt)
	default:
		// Validate rejects unknown types before dispatch.
		return nil, permanent(fmt.Errorf("unhandled message_type %q", evt.MessageType))
	}
}

// applyEvent converges the instance on the event's desired state and waits
// for it to become connectable.
func (c *Conductor) applyEvent(ctx context.Context, evt *events.LifecycleEvent) (*events.StatusReport, error) {
	spec, err := apply.BuildCoreDBSpec(evt.Body, c.cfg.Defaults)
	if err != nil {
		return nil, permanent(err)
	}

	name := evt.Body.ResourceName
	namespace := evt.Body.Namespace()

	nsLabels := metadata.AddOrganizationLabel(
		metadata.AddDataPlaneLabel(metadata.BuildStandardLabels(name, "namespace"), c.cfg.DataPlaneID),
		evt.Body.Organization)
	if err := c.engine.EnsureNamespace(ctx, namespace, nsLabels); err != nil {
		return nil, err
	}

	if err := c.engine.EnsureIngressRouteTCP(ctx, namespace, name, apply.RouteTarget{
		Host:        fmt.Sprintf("%s.%s", name, c.cfg.BaseDomain),
		ServiceName: name,
		Port:        spec.Port,
	}); err != nil {
		return nil, err
	}

	labels := metadata.AddOrganizationLabel(
		metadata.AddDataPlaneLabel(metadata.BuildStandardLabels(name, "instance"), c.cfg.DataPlaneID),
		evt.Body.Organization)
	if _, err := c.engine.EnsureCoreDB(ctx, namespace, name, spec, labels); err != nil {
		return nil, err
	}

	start := time.Now()
	ready, err := c.watcher.WaitForReady(ctx, namespace, name, c.cfg.ReadinessTimeout)
	monitoring.ObserveReadinessWait(time.Since(start))
	if err != nil {
		return nil, err
	}

	return &events.StatusReport{
		DataPlaneID: c.cfg.DataPlaneID,
		EventID:     evt.EventID,
		MessageType: evt.MessageType.ReportType(),
		Spec:        &ready.Spec,
		EventMeta:   events.EventMeta{Connection: ready.Status.Connection},
	}, nil
}

// restartEvent bounces the instance and waits for it to come back. Restarting
// an instance that does not exist is a permanent failure, unlike delete.
func (c *Conductor) restartEvent(ctx context.Context, evt *events.LifecycleEvent) (*events.StatusReport, error) {
	name := evt.Body.ResourceName
	namespace := evt.Body.Namespace()

	if err := c.engine.RestartCoreDB(ctx, namespace, name); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, permanent(fmt.Errorf("cannot restart %q: %w", name, err))
		}
		return nil, err
	}

	start := time.Now()
	ready, err := c.watcher.WaitForReady(ctx, namespace, name, c.cfg.ReadinessTimeout)
	monitoring.ObserveReadinessWait(time.Since(start))
	if err != nil {
		return nil, err
	}

	return &events.StatusReport{
		DataPlaneID: c.cfg.DataPlaneID,
		EventID:     evt.EventID,
		MessageType: events.EventRestarted,
		Spec:        &ready.Spec,
		EventMeta:   events.EventMeta{Connection: ready.Status.Connection},
	}, nil
}

// deleteEvent removes the instance and its namespace when nothing else lives
// there. Deleting an absent instance reports success: the desired state
// already holds.
func (c *Conductor) deleteEvent(ctx context.Context, log logr.Logger, evt *events.LifecycleEvent) (*events.StatusReport, error) {
	name := evt.Body.ResourceName
	namespace := evt.Body.Namespace()

	if err := c.engine.DeleteCoreDB(ctx, namespace, name); err != nil {
		return nil, err
	}
	deleted, err := c.engine.DeleteNamespaceIfEmpty(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if !deleted {
		log.Info("Namespace retained after delete", "namespace", namespace)
	}

	return &events.StatusReport{
		DataPlaneID: c.cfg.DataPlaneID,
		EventID:     evt.EventID,
		MessageType: events.EventDeleted,
	}, nil
}

// ack enqueues the report and then archives the original message, in that
// order. Archiving first could lose the outcome on a crash in between;
// reporting first at worst duplicates it, and reports carry the event_id the
// control plane dedupes on.
func (c *Conductor) ack(ctx context.Context, msg *queue.Message, report *events.StatusReport) error {
	if _, err := c.queue.Send(ctx, c.cfg.ReportQueue, report); err != nil {
		return fmt.Errorf("failed to send status report for event %q: %w", report.EventID, err)
	}
	monitoring.RecordReportSent(string(report.MessageType))

	if err := c.queue.Archive(ctx, c.cfg.RequestQueue, msg.ID); err != nil {
		return fmt.Errorf("failed to archive message %d: %w", msg.ID, err)
	}
	return nil
}

// reject acks a permanently failed message with an error report. When the
// report cannot be sent the message stays leased and the rejection is retried
// on redelivery.
func (c *Conductor) reject(ctx context.Context, log logr.Logger, msg *queue.Message, eventID string, cause error) {
	report := &events.StatusReport{
		DataPlaneID: c.cfg.DataPlaneID,
		EventID:     eventID,
		MessageType: events.EventError,
		EventMeta:   events.EventMeta{Error: cause.Error()},
	}
	if err := c.ack(ctx, msg, report); err != nil {
		log.Error(err, "Failed to send error report, leaving message for redelivery")
	}
}

func (c *Conductor) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
