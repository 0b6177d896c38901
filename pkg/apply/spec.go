package apply

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	coredbv1alpha1 "github.com/coredb-io/conductor/api/v1alpha1"
	"github.com/coredb-io/conductor/pkg/events"
)

// Defaults fills the sizing fields a lifecycle event leaves out. The values
// come from conductor configuration, not from hardcoded policy here.
type Defaults struct {
	Image    string
	CPU      string
	Memory   string
	Storage  string
	Port     int32
	Replicas int32
}

// BuildCoreDBSpec converts a lifecycle event body into a CoreDB spec,
// applying defaults and parsing quantities. A parse failure is a permanent
// validation error: the control plane sent a malformed size.
func BuildCoreDBSpec(body *events.ResourceSpec, d Defaults) (coredbv1alpha1.CoreDBSpec, error) {
	spec := coredbv1alpha1.CoreDBSpec{
		Image:           orDefault(body.Image, d.Image),
		Port:            d.Port,
		Replicas:        d.Replicas,
		Extensions:      body.Extensions,
		PostgresConfigs: body.PostgresConfigs,
	}
	if body.Port != nil {
		spec.Port = *body.Port
	}
	if body.Replicas != nil {
		spec.Replicas = *body.Replicas
	}

	storage, err := resource.ParseQuantity(orDefault(body.Storage, d.Storage))
	if err != nil {
		return coredbv1alpha1.CoreDBSpec{}, fmt.Errorf("invalid storage quantity %q: %w", body.Storage, err)
	}
	spec.Storage = storage

	cpu, err := resource.ParseQuantity(orDefault(body.CPU, d.CPU))
	if err != nil {
		return coredbv1alpha1.CoreDBSpec{}, fmt.Errorf("invalid cpu quantity %q: %w", body.CPU, err)
	}
	memory, err := resource.ParseQuantity(orDefault(body.Memory, d.Memory))
	if err != nil {
		return coredbv1alpha1.CoreDBSpec{}, fmt.Errorf("invalid memory quantity %q: %w", body.Memory, err)
	}

	// Requests equal limits so the instance runs in the Guaranteed QoS class.
	resources := corev1.ResourceList{
		corev1.ResourceCPU:    cpu,
		corev1.ResourceMemory: memory,
	}
	spec.Resources = corev1.ResourceRequirements{
		Limits:   resources,
		Requests: resources.DeepCopy(),
	}

	return spec, nil
}

func orDefault(value, def string) string {
	if value != "" {
		return value
	}
	return def
}
