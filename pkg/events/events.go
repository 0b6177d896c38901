// Package events defines the message schema spoken over the control-plane and
// data-plane queues.
//
// A LifecycleEvent travels from the control plane to a data plane and asks for
// a managed database instance to be created, updated, restarted or deleted. A
// StatusReport travels the other way and carries the outcome. The event_id is
// opaque here: it is minted upstream and must come back unchanged so the
// control plane can correlate request and result.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"k8s.io/apimachinery/pkg/util/validation"

	coredbv1alpha1 "github.com/coredb-io/conductor/api/v1alpha1"
)

// EventType discriminates lifecycle requests and their report counterparts.
type EventType string

const (
	// Request types sent by the control plane.

	EventCreate  EventType = "Create"
	EventUpdate  EventType = "Update"
	EventRestart EventType = "Restart"
	EventDelete  EventType = "Delete"

	// Report types sent back by the conductor.

	EventCreated   EventType = "Created"
	EventUpdated   EventType = "Updated"
	EventRestarted EventType = "Restarted"
	EventDeleted   EventType = "Deleted"
	EventError     EventType = "Error"
)

// ResourceTypeCoreDB is the only resource_type this conductor recognizes.
// Anything else is a permanent validation error.
const ResourceTypeCoreDB = "CoreDB"

// validate is shared; validator.Validate is thread-safe and designed for
// concurrent use.
var validate = validator.New()

// LifecycleEvent is the inbound desired-state change message. Body is
// structonly here: the envelope check stops at the pointer and the dedicated
// body validation in Validate owns the ResourceSpec rules.
type LifecycleEvent struct {
	EventID     string        `json:"event_id" validate:"required"`
	DataPlaneID string        `json:"data_plane_id" validate:"required"`
	MessageType EventType     `json:"message_type" validate:"required"`
	Body        *ResourceSpec `json:"body,omitempty" validate:"omitempty,structonly"`
}

// ResourceSpec carries the provisioning parameters of a lifecycle request.
// Only ResourceName and ResourceType are present on every request; Delete
// messages omit the sizing fields entirely.
type ResourceSpec struct {
	ResourceName string `json:"resource_name" validate:"required,hostname_rfc1123,max=53"`
	ResourceType string `json:"resource_type" validate:"required"`

	// Organization scopes the instance namespace. Optional; without it the
	// namespace is the resource name itself.
	Organization string `json:"organization,omitempty" validate:"omitempty,hostname_rfc1123,max=53"`

	CPU     string `json:"cpu,omitempty"`
	Memory  string `json:"memory,omitempty"`
	Storage string `json:"storage,omitempty"`
	Image   string `json:"image,omitempty"`

	Replicas *int32 `json:"replicas,omitempty" validate:"omitempty"`
	Port     *int32 `json:"port,omitempty"`

	Extensions      []coredbv1alpha1.Extension `json:"extensions,omitempty"`
	PostgresConfigs map[string]string          `json:"postgres_configs,omitempty"`
}

// StatusReport is the outbound outcome message.
type StatusReport struct {
	DataPlaneID string    `json:"data_plane_id"`
	EventID     string    `json:"event_id"`
	MessageType EventType `json:"message_type,omitempty"`

	// Spec echoes the applied CoreDB spec on success so the control plane can
	// display the converged state without a second round trip.
	Spec *coredbv1alpha1.CoreDBSpec `json:"spec,omitempty"`

	EventMeta EventMeta `json:"event_meta"`
}

// EventMeta carries exactly one of a connection endpoint or an error
// description.
type EventMeta struct {
	Connection string `json:"connection,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Parse deserializes a queue payload into a LifecycleEvent. A parse failure
// is a permanent error for the caller: retrying the same bytes can never
// succeed.
func Parse(payload []byte) (*LifecycleEvent, error) {
	var evt LifecycleEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("malformed lifecycle event: %w", err)
	}
	return &evt, nil
}

// RecoverEventID makes a best-effort attempt to pull an event_id out of a
// payload that failed to parse as a LifecycleEvent, so the error report can
// still be correlated upstream. Returns "" when nothing can be recovered.
func RecoverEventID(payload []byte) string {
	var probe struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.EventID
}

// Validate checks structural and semantic validity. Any error returned here
// is permanent: the message is acked and reported as failed, never retried.
func (e *LifecycleEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid lifecycle event: %w", err)
	}

	switch e.MessageType {
	case EventCreate, EventUpdate, EventRestart, EventDelete:
	default:
		return fmt.Errorf("unknown message_type %q", e.MessageType)
	}

	if e.Body == nil {
		return fmt.Errorf("%s event has no body", e.MessageType)
	}
	if err := validate.Struct(e.Body); err != nil {
		return fmt.Errorf("invalid resource spec: %w", err)
	}
	if e.Body.ResourceType != ResourceTypeCoreDB {
		return fmt.Errorf("unknown resource_type %q", e.Body.ResourceType)
	}
	// Organization and name are each bounded, but the namespace derived from
	// their combination must still fit a DNS label.
	if ns := e.Body.Namespace(); len(ns) > validation.DNS1123LabelMaxLength {
		return fmt.Errorf("derived namespace %q exceeds %d characters", ns, validation.DNS1123LabelMaxLength)
	}
	return nil
}

// Key identifies the logical instance this event refers to. Events sharing a
// key must never be applied concurrently.
func (e *LifecycleEvent) Key() string {
	name := ""
	if e.Body != nil {
		name = e.Body.ResourceName
	}
	return e.DataPlaneID + "/" + name
}

// Namespace derives the deterministic namespace for the instance. Namespaces
// are organization-scoped when the control plane supplies an organization.
func (s *ResourceSpec) Namespace() string {
	if s.Organization != "" {
		return fmt.Sprintf("org-%s-inst-%s", s.Organization, s.ResourceName)
	}
	return s.ResourceName
}

// ReportType maps a request type to its success report counterpart.
func (t EventType) ReportType() EventType {
	switch t {
	case EventCreate:
		return EventCreated
	case EventUpdate:
		return EventUpdated
	case EventRestart:
		return EventRestarted
	case EventDelete:
		return EventDeleted
	default:
		return EventError
	}
}
