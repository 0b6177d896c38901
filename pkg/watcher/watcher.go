// Package watcher waits for a just-applied CoreDB to become connectable.
//
// Readiness is observed through a watch subscription rather than polling:
// the API server pushes status updates and the watcher returns as soon as
// one satisfies the readiness condition. The subscription is always torn
// down when the wait ends, whatever the outcome.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	coredbv1alpha1 "github.com/coredb-io/conductor/api/v1alpha1"
)

// ErrTimeout reports that the readiness deadline elapsed. The resource stays
// applied and may still become ready later, so callers classify this as
// transient, never as a negative provisioning verdict.
var ErrTimeout = errors.New("timed out waiting for readiness")

// Watcher observes CoreDB status through a watch-capable client.
type Watcher struct {
	client client.WithWatch
	log    logr.Logger
}

// New creates a readiness watcher.
func New(c client.WithWatch, log logr.Logger) *Watcher {
	return &Watcher{client: c, log: log.WithName("watcher")}
}

// Ready reports whether the CoreDB exposes a usable connection endpoint.
func Ready(cdb *coredbv1alpha1.CoreDB) bool {
	return cdb.Status.Running && cdb.Status.Connection != ""
}

// WaitForReady blocks until the named CoreDB is ready, the timeout elapses
// (ErrTimeout), or ctx is cancelled. On success it returns the observed
// resource, whose status carries the connection endpoint.
func (w *Watcher) WaitForReady(ctx context.Context, namespace, name string, timeout time.Duration) (*coredbv1alpha1.CoreDB, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Fast path: the instance may already be ready from a previous attempt
	// at this same message.
	current := &coredbv1alpha1.CoreDB{}
	err := w.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, current)
	if err == nil && Ready(current) {
		return current, nil
	}

	list := &coredbv1alpha1.CoreDBList{}
	sub, err := w.client.Watch(ctx, list, client.InNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("failed to watch CoreDBs in %q: %w", namespace, err)
	}
	defer sub.Stop()

	// Close the gap between the initial get and the subscription start: a
	// status update in that window would otherwise be missed entirely.
	err = w.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, current)
	if err == nil && Ready(current) {
		return current, nil
	}

	w.log.V(1).Info("Waiting for CoreDB readiness",
		"namespace", namespace, "name", name, "timeout", timeout)

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: CoreDB %s/%s after %s", ErrTimeout, namespace, name, timeout)
			}
			return nil, ctx.Err()

		case evt, ok := <-sub.ResultChan():
			if !ok {
				return nil, fmt.Errorf("readiness subscription for CoreDB %s/%s closed unexpectedly", namespace, name)
			}
			cdb, ok := evt.Object.(*coredbv1alpha1.CoreDB)
			if !ok || cdb.Name != name {
				continue
			}
			if Ready(cdb) {
				w.log.Info("CoreDB is ready", "namespace", namespace, "name", name)
				return cdb, nil
			}
		}
	}
}
