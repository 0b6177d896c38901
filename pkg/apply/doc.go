// Package apply turns a desired instance state into idempotent Kubernetes
// object operations.
//
// Every operation is safe to repeat: ensure calls converge on the desired
// state no matter how many times a redelivered message replays them, and
// delete calls treat absence as success. Conflicting writers are not locked
// out; they are detected through resourceVersion conflicts and surfaced as
// retryable errors, so exactly one of two racing replicas wins each round.
package apply
