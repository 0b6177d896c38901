package clienttest

import (
	"testing"

	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	coredbv1alpha1 "github.com/coredb-io/conductor/api/v1alpha1"
)

// NewScheme returns a scheme with every type the conductor works with.
func NewScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		t.Fatalf("failed to add client-go scheme: %v", err)
	}
	if err := coredbv1alpha1.AddToScheme(scheme); err != nil {
		t.Fatalf("failed to add coredb scheme: %v", err)
	}
	return scheme
}

// NewClient builds a watch-capable fake client pre-loaded with objs. CoreDB
// status is a subresource, matching the real API server.
func NewClient(t *testing.T, objs ...client.Object) client.WithWatch {
	t.Helper()
	return fake.NewClientBuilder().
		WithScheme(NewScheme(t)).
		WithObjects(objs...).
		WithStatusSubresource(&coredbv1alpha1.CoreDB{}).
		Build()
}
