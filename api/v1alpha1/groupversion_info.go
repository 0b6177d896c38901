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

// Package v1alpha1 contains API Schema definitions for the coredb.io v1alpha1
// API group.
// +kubebuilder:object:generate=true
// +groupName=coredb.io
package v1alpha1

import (
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/scheme"
)

var (
	// GroupVersion is group version used to register the CoreDB objects.
	GroupVersion = schema.GroupVersion{Group: "coredb.io", Version: "v1alpha1"}

	// TraefikGroupVersion is the group version of the external IngressRouteTCP
	// type. It is registered alongside GroupVersion so one scheme serves both.
	TraefikGroupVersion = schema.GroupVersion{Group: "traefik.containo.us", Version: "v1alpha1"}

	// SchemeBuilder is used to add go types to the GroupVersionKind scheme.
	SchemeBuilder = &scheme.Builder{GroupVersion: GroupVersion}

	// TraefikSchemeBuilder registers the IngressRouteTCP types.
	TraefikSchemeBuilder = &scheme.Builder{GroupVersion: TraefikGroupVersion}

	// AddToScheme adds the types in this API group to the given scheme.
	AddToScheme = func(s *runtime.Scheme) error {
		if err := SchemeBuilder.AddToScheme(s); err != nil {
			return err
		}
		return TraefikSchemeBuilder.AddToScheme(s)
	}
)
