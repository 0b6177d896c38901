package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	coredbv1alpha1 "github.com/coredb-io/conductor/api/v1alpha1"
	"github.com/coredb-io/conductor/pkg/apply"
	"github.com/coredb-io/conductor/pkg/clienttest"
	"github.com/coredb-io/conductor/pkg/events"
	"github.com/coredb-io/conductor/pkg/metadata"
	"github.com/coredb-io/conductor/pkg/queue"
	"github.com/coredb-io/conductor/pkg/queue/queuetest"
)

const (
	requestQueue = "requests"
	reportQueue  = "reports"
)

func testConfig() Config {
	return Config{
		DataPlaneID:       "dp1",
		RequestQueue:      requestQueue,
		ReportQueue:       reportQueue,
		BaseDomain:        "data-1.coredb.io",
		Workers:           1,
		VisibilityTimeout: 30 * time.Second,
		ReadinessTimeout:  2 * time.Second,
		PollInterval:      10 * time.Millisecond,
		Defaults: apply.Defaults{
			Image:    "quay.io/coredb/coredb-pg:latest",
			CPU:      "1",
			Memory:   "1Gi",
			Storage:  "8Gi",
			Port:     5432,
			Replicas: 1,
		},
	}
}

func newTestConductor(t *testing.T, f queue.Queue, k8s client.WithWatch, cfg Config) *Conductor {
	t.Helper()
	return New(f, k8s, cfg, logr.Discard())
}

func createEvent(eventID, name string) *events.LifecycleEvent {
	return &events.LifecycleEvent{
		EventID:     eventID,
		DataPlaneID: "dp1",
		MessageType: events.EventCreate,
		Body: &events.ResourceSpec{
			ResourceName: name,
			ResourceType: events.ResourceTypeCoreDB,
			CPU:          "1",
			Memory:       "2Gi",
			Storage:      "1Gi",
		},
	}
}

// lease sends evt and leases it, the way a worker would receive it.
func lease(t *testing.T, f *queuetest.Fake, evt *events.LifecycleEvent) *queue.Message {
	t.Helper()
	if _, err := f.Send(t.Context(), requestQueue, evt); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	msg, err := f.Read(t.Context(), requestQueue, 30*time.Second)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if msg == nil {
		t.Fatal("Read() returned no message")
	}
	return msg
}

func sentReports(t *testing.T, f *queuetest.Fake) []events.StatusReport {
	t.Helper()
	var out []events.StatusReport
	for _, raw := range f.Messages(reportQueue) {
		var r events.StatusReport
		if err := json.Unmarshal(raw, &r); err != nil {
			t.Fatalf("failed to unmarshal report %s: %v", raw, err)
		}
		out = append(out, r)
	}
	return out
}

// markReadyWhenCreated flips the instance status to ready as soon as the
// object exists, standing in for the CoreDB operator.
func markReadyWhenCreated(t *testing.T, c client.WithWatch, namespace, name string) {
	t.Helper()
	go func() {
		deadline := time.After(5 * time.Second)
		for {
			select {
			case <-deadline:
				return
			case <-time.After(20 * time.Millisecond):
			}
			cdb := &coredbv1alpha1.CoreDB{}
			if err := c.Get(context.Background(), client.ObjectKey{Namespace: namespace, Name: name}, cdb); err != nil {
				continue
			}
			cdb.Status.Running = true
			cdb.Status.Connection = fmt.Sprintf("postgresql://%s.data-1.coredb.io:5432", name)
			if err := c.Status().Update(context.Background(), cdb); err == nil {
				return
			}
		}
	}()
}

func readyCoreDB(name, namespace string) *coredbv1alpha1.CoreDB {
	return &coredbv1alpha1.CoreDB{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec:       coredbv1alpha1.CoreDBSpec{Image: "old-image", Port: 5432, Replicas: 1},
		Status: coredbv1alpha1.CoreDBStatus{
			Running:    true,
			Connection: fmt.Sprintf("postgresql://%s.data-1.coredb.io:5432", name),
		},
	}
}

func TestProcess_CreateHappyPath(t *testing.T) {
	t.Parallel()

	f := queuetest.NewFake()
	k8s := clienttest.NewClient(t)
	c := newTestConductor(t, f, k8s, testConfig())

	msg := lease(t, f, createEvent("e1", "example"))
	markReadyWhenCreated(t, k8s, "example", "example")

	if delay := c.process(t.Context(), c.log, msg); delay != 0 {
		t.Fatalf("process() delay = %v, want 0", delay)
	}

	// Namespace and instance exist with the requested sizing.
	cdb := &coredbv1alpha1.CoreDB{}
	if err := k8s.Get(t.Context(), client.ObjectKey{Namespace: "example", Name: "example"}, cdb); err != nil {
		t.Fatalf("CoreDB should exist: %v", err)
	}
	if got := cdb.Spec.Storage.String(); got != "1Gi" {
		t.Errorf("Storage = %q, want 1Gi", got)
	}
	if cdb.Labels[metadata.LabelDataPlane] != "dp1" {
		t.Errorf("data plane label = %q", cdb.Labels[metadata.LabelDataPlane])
	}

	route := &coredbv1alpha1.IngressRouteTCP{}
	if err := k8s.Get(t.Context(), client.ObjectKey{Namespace: "example", Name: "example"}, route); err != nil {
		t.Errorf("IngressRouteTCP should exist: %v", err)
	}

	// Exactly one success report, correlated and carrying the connection.
	reports := sentReports(t, f)
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	r := reports[0]
	if r.EventID != "e1" || r.DataPlaneID != "dp1" {
		t.Errorf("report correlation = %q/%q", r.EventID, r.DataPlaneID)
	}
	if r.MessageType != events.EventCreated {
		t.Errorf("report type = %q, want Created", r.MessageType)
	}
	if r.EventMeta.Connection == "" {
		t.Error("report should carry the connection endpoint")
	}
	if r.Spec == nil {
		t.Error("report should echo the applied spec")
	}

	// The original message is acked.
	if f.Pending(requestQueue) != 0 {
		t.Errorf("pending = %d, want 0", f.Pending(requestQueue))
	}
	if len(f.Archived(requestQueue)) != 1 {
		t.Errorf("archived = %d, want 1", len(f.Archived(requestQueue)))
	}
}

func TestProcess_NamespaceFromOrganization(t *testing.T) {
	t.Parallel()

	f := queuetest.NewFake()
	k8s := clienttest.NewClient(t)
	c := newTestConductor(t, f, k8s, testConfig())

	evt := createEvent("e2", "example")
	evt.Body.Organization = "acme"
	msg := lease(t, f, evt)
	markReadyWhenCreated(t, k8s, "org-acme-inst-example", "example")

	if delay := c.process(t.Context(), c.log, msg); delay != 0 {
		t.Fatalf("process() delay = %v, want 0", delay)
	}

	cdb := &coredbv1alpha1.CoreDB{}
	if err := k8s.Get(t.Context(), client.ObjectKey{Namespace: "org-acme-inst-example", Name: "example"}, cdb); err != nil {
		t.Fatalf("CoreDB should exist in org namespace: %v", err)
	}
	if cdb.Labels[metadata.LabelOrganization] != "acme" {
		t.Errorf("organization label = %q", cdb.Labels[metadata.LabelOrganization])
	}
}

func TestProcess_DeleteWithoutPriorCreate(t *testing.T) {
	t.Parallel()

	f := queuetest.NewFake()
	k8s := clienttest.NewClient(t)
	c := newTestConductor(t, f, k8s, testConfig())

	msg := lease(t, f, &events.LifecycleEvent{
		EventID:     "e3",
		DataPlaneID: "dp1",
		MessageType: events.EventDelete,
		Body: &events.ResourceSpec{
			ResourceName: "never-created",
			ResourceType: events.ResourceTypeCoreDB,
		},
	})

	if delay := c.process(t.Context(), c.log, msg); delay != 0 {
		t.Fatalf("process() delay = %v, want 0", delay)
	}

	reports := sentReports(t, f)
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if reports[0].MessageType != events.EventDeleted {
		t.Errorf("report type = %q, want Deleted", reports[0].MessageType)
	}
	if reports[0].EventMeta.Error != "" {
		t.Errorf("report error = %q, want none", reports[0].EventMeta.Error)
	}
	if f.Pending(requestQueue) != 0 {
		t.Error("delete of absent instance should ack")
	}
}

func TestProcess_DeleteRemovesInstanceAndEmptyNamespace(t *testing.T) {
	t.Parallel()

	f := queuetest.NewFake()
	k8s := clienttest.NewClient(t, readyCoreDB("example", "example"))
	c := newTestConductor(t, f, k8s, testConfig())

	msg := lease(t, f, &events.LifecycleEvent{
		EventID:     "e4",
		DataPlaneID: "dp1",
		MessageType: events.EventDelete,
		Body: &events.ResourceSpec{
			ResourceName: "example",
			ResourceType: events.ResourceTypeCoreDB,
		},
	})

	if delay := c.process(t.Context(), c.log, msg); delay != 0 {
		t.Fatalf("process() delay = %v, want 0", delay)
	}

	err := k8s.Get(t.Context(), client.ObjectKey{Namespace: "example", Name: "example"}, &coredbv1alpha1.CoreDB{})
	if !apierrors.IsNotFound(err) {
		t.Errorf("CoreDB should be gone, got %v", err)
	}
}

func TestProcess_ConflictRetryReportsOnce(t *testing.T) {
	t.Parallel()

	f := queuetest.NewFake()
	conflicts := 1
	base := clienttest.NewClient(t, readyCoreDB("example", "example"))
	k8s := clienttest.NewFakeClientWithFailures(base, &clienttest.FailureConfig{
		OnUpdate: func(obj client.Object) error {
			if _, ok := obj.(*coredbv1alpha1.CoreDB); ok && conflicts > 0 {
				conflicts--
				return apierrors.NewConflict(
					coredbv1alpha1.GroupVersion.WithResource("coredbs").GroupResource(),
					obj.GetName(), nil)
			}
			return nil
		},
	})
	c := newTestConductor(t, f, k8s, testConfig())

	evt := createEvent("e5", "example")
	evt.MessageType = events.EventUpdate
	msg := lease(t, f, evt)

	if delay := c.process(t.Context(), c.log, msg); delay != 0 {
		t.Fatalf("process() delay = %v, want 0", delay)
	}

	reports := sentReports(t, f)
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want exactly 1", len(reports))
	}
	if reports[0].MessageType != events.EventUpdated {
		t.Errorf("report type = %q, want Updated", reports[0].MessageType)
	}
	if conflicts != 0 {
		t.Error("injected conflict was not consumed")
	}
}

func TestProcess_ConcurrentSameKeyUpdatesConverge(t *testing.T) {
	t.Parallel()

	f := queuetest.NewFake()
	k8s := clienttest.NewClient(t, readyCoreDB("example", "example"))
	c := newTestConductor(t, f, k8s, testConfig())

	evtA := createEvent("e-a", "example")
	evtA.MessageType = events.EventUpdate
	evtA.Body.CPU, evtA.Body.Memory, evtA.Body.Storage = "1", "2Gi", "1Gi"
	evtB := createEvent("e-b", "example")
	evtB.MessageType = events.EventUpdate
	evtB.Body.CPU, evtB.Body.Memory, evtB.Body.Storage = "2", "4Gi", "2Gi"

	msgA := lease(t, f, evtA)
	msgB := lease(t, f, evtB)

	var wg sync.WaitGroup
	for _, msg := range []*queue.Message{msgA, msgB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if delay := c.process(t.Context(), c.log, msg); delay != 0 {
				t.Errorf("process(%d) delay = %v, want 0", msg.ID, delay)
			}
		}()
	}
	wg.Wait()

	// The surviving spec must be one event's sizing in full, never a mixture
	// of fields from both.
	cdb := &coredbv1alpha1.CoreDB{}
	if err := k8s.Get(t.Context(), client.ObjectKey{Namespace: "example", Name: "example"}, cdb); err != nil {
		t.Fatalf("Failed to get CoreDB: %v", err)
	}
	type sizing struct{ cpu, mem, storage string }
	got := sizing{
		cpu:     cdb.Spec.Resources.Limits.Cpu().String(),
		mem:     cdb.Spec.Resources.Limits.Memory().String(),
		storage: cdb.Spec.Storage.String(),
	}
	wantA := sizing{cpu: "1", mem: "2Gi", storage: "1Gi"}
	wantB := sizing{cpu: "2", mem: "4Gi", storage: "2Gi"}
	if got != wantA && got != wantB {
		t.Errorf("final sizing = %+v, want all of %+v or all of %+v", got, wantA, wantB)
	}

	// One report per event, both successful, both acked.
	reports := sentReports(t, f)
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	seen := map[string]events.EventType{}
	for _, r := range reports {
		seen[r.EventID] = r.MessageType
	}
	if seen["e-a"] != events.EventUpdated || seen["e-b"] != events.EventUpdated {
		t.Errorf("reports by event = %v, want Updated for e-a and e-b", seen)
	}
	if f.Pending(requestQueue) != 0 {
		t.Errorf("pending = %d, want 0", f.Pending(requestQueue))
	}
}

func TestProcess_ConcurrentCreatesAcrossKeys(t *testing.T) {
	t.Parallel()

	f := queuetest.NewFake()
	k8s := clienttest.NewClient(t)
	c := newTestConductor(t, f, k8s, testConfig())

	names := []string{"alpha", "beta"}
	msgs := make([]*queue.Message, 0, len(names))
	for i, name := range names {
		msgs = append(msgs, lease(t, f, createEvent(fmt.Sprintf("e-%d", i), name)))
		markReadyWhenCreated(t, k8s, name, name)
	}

	var wg sync.WaitGroup
	for _, msg := range msgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if delay := c.process(t.Context(), c.log, msg); delay != 0 {
				t.Errorf("process(%d) delay = %v, want 0", msg.ID, delay)
			}
		}()
	}
	wg.Wait()

	// Interleaving distinct keys yields the same final resources as running
	// them one after the other.
	for _, name := range names {
		cdb := &coredbv1alpha1.CoreDB{}
		if err := k8s.Get(t.Context(), client.ObjectKey{Namespace: name, Name: name}, cdb); err != nil {
			t.Errorf("CoreDB %q should exist: %v", name, err)
		}
	}

	reports := sentReports(t, f)
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	seen := map[string]bool{}
	for _, r := range reports {
		if r.MessageType != events.EventCreated {
			t.Errorf("report %q type = %q, want Created", r.EventID, r.MessageType)
		}
		seen[r.EventID] = true
	}
	if !seen["e-0"] || !seen["e-1"] {
		t.Errorf("reports by event = %v, want e-0 and e-1", seen)
	}
	if f.Pending(requestQueue) != 0 {
		t.Errorf("pending = %d, want 0", f.Pending(requestQueue))
	}
}

func TestProcess_ReadinessTimeoutLeavesMessageLeased(t *testing.T) {
	t.Parallel()

	f := queuetest.NewFake()
	k8s := clienttest.NewClient(t)
	cfg := testConfig()
	cfg.ReadinessTimeout = 100 * time.Millisecond
	c := newTestConductor(t, f, k8s, cfg)

	msg := lease(t, f, createEvent("e6", "example"))

	// Nothing marks the instance ready, so the wait must expire.
	delay := c.process(t.Context(), c.log, msg)
	if delay <= 0 {
		t.Fatal("process() should back off after a readiness timeout")
	}

	// The resource stays applied, the message stays leased, nothing reported.
	if err := k8s.Get(t.Context(), client.ObjectKey{Namespace: "example", Name: "example"}, &coredbv1alpha1.CoreDB{}); err != nil {
		t.Errorf("CoreDB should remain applied: %v", err)
	}
	if f.Pending(requestQueue) != 1 {
		t.Errorf("pending = %d, want 1", f.Pending(requestQueue))
	}
	if len(sentReports(t, f)) != 0 {
		t.Error("no report should be sent on a readiness timeout")
	}

	// Second attempt after the instance became ready succeeds.
	markReadyWhenCreated(t, k8s, "example", "example")
	f.ExpireLeases(requestQueue)
	redelivered, err := f.Read(t.Context(), requestQueue, 30*time.Second)
	if err != nil || redelivered == nil {
		t.Fatalf("redelivery failed: msg=%v err=%v", redelivered, err)
	}
	if redelivered.ReadCount != 2 {
		t.Errorf("ReadCount = %d, want 2", redelivered.ReadCount)
	}

	cfg.ReadinessTimeout = 2 * time.Second
	c2 := newTestConductor(t, f, k8s, cfg)
	if delay := c2.process(t.Context(), c2.log, redelivered); delay != 0 {
		t.Fatalf("second attempt delay = %v, want 0", delay)
	}
	reports := sentReports(t, f)
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if reports[0].EventID != "e6" {
		t.Errorf("report event_id = %q, want e6", reports[0].EventID)
	}
}

func TestProcess_Restart(t *testing.T) {
	t.Parallel()

	f := queuetest.NewFake()
	k8s := clienttest.NewClient(t, readyCoreDB("example", "example"))
	c := newTestConductor(t, f, k8s, testConfig())

	msg := lease(t, f, &events.LifecycleEvent{
		EventID:     "e7",
		DataPlaneID: "dp1",
		MessageType: events.EventRestart,
		Body: &events.ResourceSpec{
			ResourceName: "example",
			ResourceType: events.ResourceTypeCoreDB,
		},
	})

	if delay := c.process(t.Context(), c.log, msg); delay != 0 {
		t.Fatalf("process() delay = %v, want 0", delay)
	}

	cdb := &coredbv1alpha1.CoreDB{}
	if err := k8s.Get(t.Context(), client.ObjectKey{Namespace: "example", Name: "example"}, cdb); err != nil {
		t.Fatalf("Failed to get CoreDB: %v", err)
	}
	if cdb.Annotations[metadata.AnnotationRestartedAt] == "" {
		t.Error("restart annotation should be stamped")
	}

	reports := sentReports(t, f)
	if len(reports) != 1 || reports[0].MessageType != events.EventRestarted {
		t.Fatalf("reports = %+v, want one Restarted", reports)
	}
}

func TestProcess_RestartOfAbsentInstanceIsPermanent(t *testing.T) {
	t.Parallel()

	f := queuetest.NewFake()
	k8s := clienttest.NewClient(t)
	c := newTestConductor(t, f, k8s, testConfig())

	msg := lease(t, f, &events.LifecycleEvent{
		EventID:     "e8",
		DataPlaneID: "dp1",
		MessageType: events.EventRestart,
		Body: &events.ResourceSpec{
			ResourceName: "ghost",
			ResourceType: events.ResourceTypeCoreDB,
		},
	})

	if delay := c.process(t.Context(), c.log, msg); delay != 0 {
		t.Fatalf("process() delay = %v, want 0 (permanent failures ack)", delay)
	}

	reports := sentReports(t, f)
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if reports[0].MessageType != events.EventError {
		t.Errorf("report type = %q, want Error", reports[0].MessageType)
	}
	if reports[0].EventID != "e8" {
		t.Errorf("report event_id = %q, want e8", reports[0].EventID)
	}
	if f.Pending(requestQueue) != 0 {
		t.Error("permanently failed message should be acked")
	}
}

func TestProcess_MalformedPayload(t *testing.T) {
	t.Parallel()

	f := queuetest.NewFake()
	k8s := clienttest.NewClient(t)
	c := newTestConductor(t, f, k8s, testConfig())

	f.SendRaw(requestQueue, []byte(`{"event_id": "e9", "message_type": 42}`))
	msg, err := f.Read(t.Context(), requestQueue, 30*time.Second)
	if err != nil || msg == nil {
		t.Fatalf("Read() msg=%v err=%v", msg, err)
	}

	if delay := c.process(t.Context(), c.log, msg); delay != 0 {
		t.Fatalf("process() delay = %v, want 0", delay)
	}

	reports := sentReports(t, f)
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if reports[0].MessageType != events.EventError {
		t.Errorf("report type = %q, want Error", reports[0].MessageType)
	}
	if reports[0].EventID != "e9" {
		t.Errorf("recovered event_id = %q, want e9", reports[0].EventID)
	}
	if f.Pending(requestQueue) != 0 {
		t.Error("malformed message should be acked, not redelivered")
	}
}

func TestProcess_InvalidResourceType(t *testing.T) {
	t.Parallel()

	f := queuetest.NewFake()
	k8s := clienttest.NewClient(t)
	c := newTestConductor(t, f, k8s, testConfig())

	evt := createEvent("e10", "example")
	evt.Body.ResourceType = "MySQL"
	msg := lease(t, f, evt)

	if delay := c.process(t.Context(), c.log, msg); delay != 0 {
		t.Fatalf("process() delay = %v, want 0", delay)
	}

	reports := sentReports(t, f)
	if len(reports) != 1 || reports[0].MessageType != events.EventError {
		t.Fatalf("reports = %+v, want one Error", reports)
	}
	if err := k8s.Get(t.Context(), client.ObjectKey{Name: "example"}, &coredbv1alpha1.CoreDB{}); !apierrors.IsNotFound(err) {
		t.Error("invalid event must not touch the cluster")
	}
}

func TestProcess_ReportSendFailureLeavesMessageLeased(t *testing.T) {
	t.Parallel()

	fail := true
	f := queuetest.NewFakeWithFailures(queuetest.FailureConfig{
		OnSend: func(q string) error {
			if q == reportQueue && fail {
				return fmt.Errorf("connection refused")
			}
			return nil
		},
	})
	k8s := clienttest.NewClient(t, readyCoreDB("example", "example"))
	c := newTestConductor(t, f, k8s, testConfig())

	msg := lease(t, f, &events.LifecycleEvent{
		EventID:     "e11",
		DataPlaneID: "dp1",
		MessageType: events.EventDelete,
		Body: &events.ResourceSpec{
			ResourceName: "example",
			ResourceType: events.ResourceTypeCoreDB,
		},
	})

	// Report cannot be sent: the message must stay leased for redelivery.
	if delay := c.process(t.Context(), c.log, msg); delay <= 0 {
		t.Fatal("process() should back off when the report cannot be sent")
	}
	if f.Pending(requestQueue) != 1 {
		t.Errorf("pending = %d, want 1", f.Pending(requestQueue))
	}

	// Redelivery after the report queue recovers acks exactly once.
	fail = false
	f.ExpireLeases(requestQueue)
	redelivered, err := f.Read(t.Context(), requestQueue, 30*time.Second)
	if err != nil || redelivered == nil {
		t.Fatalf("redelivery failed: msg=%v err=%v", redelivered, err)
	}
	if delay := c.process(t.Context(), c.log, redelivered); delay != 0 {
		t.Fatalf("retry delay = %v, want 0", delay)
	}
	if len(sentReports(t, f)) != 1 {
		t.Errorf("reports = %d, want 1", len(sentReports(t, f)))
	}
	if f.Pending(requestQueue) != 0 {
		t.Error("message should be acked after successful report")
	}
}
