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
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// ============================================================================
// IngressRouteTCP (Traefik external type, conductor-managed subset)
// ============================================================================

// IngressRouteTCPSpec defines the desired state of an IngressRouteTCP.
type IngressRouteTCPSpec struct {
	// EntryPoints names the Traefik entry points this route attaches to.
	// +optional
	EntryPoints []string `json:"entryPoints,omitempty"`

	// Routes defines the list of TCP routes.
	Routes []RouteTCP `json:"routes"`
}

// RouteTCP holds the TCP route configuration.
type RouteTCP struct {
	// Match is the SNI rule selecting traffic for this route
	// (e.g. `HostSNI(`instance.example.com`)`).
	Match string `json:"match"`

	// Services defines the forwarding targets.
	// +optional
	Services []ServiceTCP `json:"services,omitempty"`
}

// ServiceTCP is one forwarding target of a TCP route.
type ServiceTCP struct {
	// Name of the target Kubernetes Service.
	Name string `json:"name"`

	// Port of the target service. Can be a port number or name.
	Port intstr.IntOrString `json:"port"`
}

// +kubebuilder:object:root=true

// IngressRouteTCP is the Schema for the Traefik ingressroutetcps API. Only
// the fields the conductor manages are modeled; Traefik owns the rest.
type IngressRouteTCP struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec IngressRouteTCPSpec `json:"spec"`
}

// +kubebuilder:object:root=true

// IngressRouteTCPList contains a list of IngressRouteTCP.
type IngressRouteTCPList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []IngressRouteTCP `json:"items"`
}

func init() {
	TraefikSchemeBuilder.Register(&IngressRouteTCP{}, &IngressRouteTCPList{})
}
