/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ============================================================================
// CoreDB Spec (written by the conductor)
// ============================================================================

// CoreDBSpec defines the desired state of a managed database instance. The
// conductor owns every field here; the CoreDB operator reads them and
// provisions the actual Postgres workload.
type CoreDBSpec struct {
	// Image is the database container image reference.
	// +kubebuilder:validation:MinLength=1
	Image string `json:"image"`

	// Port the database listens on.
	// +kubebuilder:default=5432
	// +optional
	Port int32 `json:"port,omitempty"`

	// Replicas is the desired number of database pods.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:default=1
	// +optional
	Replicas int32 `json:"replicas,omitempty"`

	// Storage is the requested data volume size.
	Storage resource.Quantity `json:"storage"`

	// Resources defines the compute resource requirements.
	// +optional
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`

	// Stop scales the instance to zero without deleting its storage.
	// +optional
	Stop bool `json:"stop,omitempty"`

	// Extensions the instance should have installed and enabled.
	// +optional
	Extensions []Extension `json:"extensions,omitempty"`

	// PostgresConfigs holds raw engine configuration overrides
	// (postgresql.conf keys and values).
	// +optional
	PostgresConfigs map[string]string `json:"postgresConfigs,omitempty"`
}

// Extension describes one installable database extension.
type Extension struct {
	// Name of the extension as known to the engine (e.g. "pg_stat_statements").
	Name string `json:"name"`

	// Description is free-form and informational only.
	// +optional
	Description string `json:"description,omitempty"`

	// Locations lists the databases the extension applies to.
	Locations []ExtensionLocation `json:"locations"`
}

// ExtensionLocation pins an extension to a database within the instance.
type ExtensionLocation struct {
	// Database the extension is installed in. Empty means the default
	// database.
	// +optional
	Database string `json:"database,omitempty"`

	// Enabled toggles the extension without uninstalling it.
	Enabled bool `json:"enabled"`

	// Schema the extension objects are created in.
	// +optional
	Schema string `json:"schema,omitempty"`

	// Version requested for the extension.
	// +optional
	Version string `json:"version,omitempty"`
}

// ============================================================================
// CoreDB Status (written by the CoreDB operator, read-only here)
// ============================================================================

// CoreDBStatus defines the observed state of a CoreDB. The conductor never
// writes this; the readiness watcher blocks until Connection is populated.
type CoreDBStatus struct {
	// Running reports whether the database accepted its last health probe.
	// +optional
	Running bool `json:"running"`

	// Connection is the endpoint clients use to reach the instance. Readiness
	// is defined as this field being populated.
	// +optional
	Connection string `json:"connection,omitempty"`

	// Extensions actually installed, which may lag the spec while an
	// extension change is rolling out.
	// +optional
	Extensions []Extension `json:"extensions,omitempty"`

	// ExtensionsUpdating is true while an extension change is in flight.
	// +optional
	ExtensionsUpdating bool `json:"extensionsUpdating,omitempty"`

	// Storage reflects the currently provisioned volume size.
	// +optional
	Storage *resource.Quantity `json:"storage,omitempty"`

	// Conditions represent the latest available observations.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=cdb
// +kubebuilder:printcolumn:name="Running",type=boolean,JSONPath=`.status.running`
// +kubebuilder:printcolumn:name="Connection",type=string,JSONPath=`.status.connection`

// CoreDB is the Schema for the coredbs API.
type CoreDB struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   CoreDBSpec   `json:"spec,omitempty"`
	Status CoreDBStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// CoreDBList contains a list of CoreDB.
type CoreDBList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []CoreDB `json:"items"`
}

func init() {
	SchemeBuilder.Register(&CoreDB{}, &CoreDBList{})
}
