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

// Package v1alpha1 defines the API types the conductor reads and writes in a
// data plane.
//
// Two external custom resource types live here:
//
//   - CoreDB (coredb.io/v1alpha1): the managed database instance. The
//     conductor writes its spec; the CoreDB operator running in the same
//     cluster owns the status, including the connection endpoint the
//     conductor waits for.
//   - IngressRouteTCP (traefik.containo.us/v1alpha1): the TCP route that
//     exposes an instance's database port outside the cluster. Only the
//     fields the conductor manages are modeled.
//
// Both types are defined read-side-minimal: fields another controller sets
// are optional so a round trip through this client never drops them.
//
// # Versioning
//
// This is the v1alpha1 version, indicating the API is in early development
// and may change in backward-incompatible ways.
package v1alpha1
