// Package conductor runs the reconciliation loop between the control-plane
// queue and the Kubernetes cluster.
//
// A pool of workers leases lifecycle events off the request queue, applies
// the desired state through the apply engine, waits for the instance to
// become connectable, and acks the message by enqueueing a status report and
// archiving the original. The report is always sent before the archive: a
// crash between the two duplicates the report at worst, it never loses one.
//
// Failures fall into two classes. Permanent failures (malformed or invalid
// messages, unparseable sizes) are acked with an error report, because
// redelivery would fail identically. Everything else is transient: the
// message is left on its lease, reappears when the visibility timeout
// expires, and the worker backs off for a delay derived from the delivery
// count.
//
// Events for the same instance are serialized through a per-key mutex within
// the process; across replicas, resourceVersion conflicts in the apply engine
// prevent lost updates.
package conductor
