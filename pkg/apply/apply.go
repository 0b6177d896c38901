package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	coredbv1alpha1 "github.com/coredb-io/conductor/api/v1alpha1"
	"github.com/coredb-io/conductor/pkg/metadata"
)

const (
	// conflictRetries bounds the immediate reapply attempts after a
	// resourceVersion conflict before the error is surfaced as transient.
	conflictRetries = 3

	conflictRetryDelay = 50 * time.Millisecond
)

// RouteTarget describes the forwarding target of an instance's TCP route.
type RouteTarget struct {
	// Host is the external SNI hostname routed to the instance.
	Host string

	// ServiceName is the in-cluster Service fronting the database pods.
	ServiceName string

	// Port is the database port on that service.
	Port int32
}

// Engine performs the idempotent object operations for one cluster. It holds
// no state beyond its collaborators and is safe for concurrent use.
type Engine struct {
	client client.Client
	log    logr.Logger
}

// NewEngine creates an apply engine bound to the given cluster client.
func NewEngine(c client.Client, log logr.Logger) *Engine {
	return &Engine{client: c, log: log.WithName("apply")}
}

// EnsureNamespace creates the namespace if it is absent. An existing
// namespace, including one created concurrently by another replica, is
// success.
func (e *Engine) EnsureNamespace(ctx context.Context, name string, labels map[string]string) error {
	ns := &corev1.Namespace{}
	err := e.client.Get(ctx, client.ObjectKey{Name: name}, ns)
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to get namespace %q: %w", name, err)
	}

	ns = &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: labels,
		},
	}
	e.log.Info("Creating namespace", "namespace", name)
	if err := e.client.Create(ctx, ns); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create namespace %q: %w", name, err)
	}
	return nil
}

// EnsureIngressRouteTCP creates or updates the TCP route that exposes the
// instance's database port. Only the forwarding target is reconciled; fields
// another controller may set on the route are left alone.
func (e *Engine) EnsureIngressRouteTCP(ctx context.Context, namespace, name string, target RouteTarget) error {
	desired := &coredbv1alpha1.IngressRouteTCP{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    metadata.BuildStandardLabels(name, "ingress"),
		},
		Spec: coredbv1alpha1.IngressRouteTCPSpec{
			EntryPoints: []string{"postgresql"},
			Routes: []coredbv1alpha1.RouteTCP{
				{
					Match: fmt.Sprintf("HostSNI(`%s`)", target.Host),
					Services: []coredbv1alpha1.ServiceTCP{
						{
							Name: target.ServiceName,
							Port: intstr.FromInt32(target.Port),
						},
					},
				},
			},
		},
	}

	existing := &coredbv1alpha1.IngressRouteTCP{}
	err := e.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, existing)
	if err != nil {
		if apierrors.IsNotFound(err) {
			e.log.Info("Creating IngressRouteTCP", "namespace", namespace, "name", name, "host", target.Host)
			if err := e.client.Create(ctx, desired); err != nil && !apierrors.IsAlreadyExists(err) {
				return fmt.Errorf("failed to create IngressRouteTCP %s/%s: %w", namespace, name, err)
			}
			return nil
		}
		return fmt.Errorf("failed to get IngressRouteTCP %s/%s: %w", namespace, name, err)
	}

	if routesEqual(existing.Spec, desired.Spec) {
		return nil
	}
	existing.Spec = desired.Spec
	existing.Labels = metadata.MergeLabels(desired.Labels, existing.Labels)
	e.log.Info("Updating IngressRouteTCP target", "namespace", namespace, "name", name, "host", target.Host)
	if err := e.client.Update(ctx, existing); err != nil {
		return fmt.Errorf("failed to update IngressRouteTCP %s/%s: %w", namespace, name, err)
	}
	return nil
}

func routesEqual(a, b coredbv1alpha1.IngressRouteTCPSpec) bool {
	if len(a.Routes) != len(b.Routes) {
		return false
	}
	for i := range a.Routes {
		if a.Routes[i].Match != b.Routes[i].Match {
			return false
		}
		if len(a.Routes[i].Services) != len(b.Routes[i].Services) {
			return false
		}
		for j := range a.Routes[i].Services {
			if a.Routes[i].Services[j] != b.Routes[i].Services[j] {
				return false
			}
		}
	}
	return true
}

// EnsureCoreDB creates the CoreDB if absent, otherwise applies spec through
// an explicit read-modify-write. The write carries the resourceVersion read
// in the same attempt, so a concurrent writer causes a conflict instead of a
// silent clobber; conflicts are reapplied a bounded number of times and then
// surfaced for the caller to classify as transient.
func (e *Engine) EnsureCoreDB(ctx context.Context, namespace, name string, spec coredbv1alpha1.CoreDBSpec, labels map[string]string) (*coredbv1alpha1.CoreDB, error) {
	return retry.NewWithData[*coredbv1alpha1.CoreDB](
		retry.Attempts(conflictRetries),
		retry.RetryIf(apierrors.IsConflict),
		retry.Delay(conflictRetryDelay),
		retry.MaxJitter(conflictRetryDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() (*coredbv1alpha1.CoreDB, error) {
		existing := &coredbv1alpha1.CoreDB{}
		err := e.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, existing)
		if err != nil {
			if !apierrors.IsNotFound(err) {
				return nil, fmt.Errorf("failed to get CoreDB %s/%s: %w", namespace, name, err)
			}

			desired := &coredbv1alpha1.CoreDB{
				ObjectMeta: metav1.ObjectMeta{
					Name:      name,
					Namespace: namespace,
					Labels:    labels,
				},
				Spec: spec,
			}
			e.log.Info("Creating CoreDB", "namespace", namespace, "name", name)
			if err := e.client.Create(ctx, desired); err != nil {
				if apierrors.IsAlreadyExists(err) {
					// Lost the create race; reapply as an update.
					return nil, apierrors.NewConflict(
						coredbv1alpha1.GroupVersion.WithResource("coredbs").GroupResource(), name, err)
				}
				return nil, fmt.Errorf("failed to create CoreDB %s/%s: %w", namespace, name, err)
			}
			return desired, nil
		}

		// Replace only the spec; status and metadata set by the CoreDB
		// operator ride along untouched.
		existing.Spec = spec
		existing.Labels = metadata.MergeLabels(labels, existing.Labels)
		e.log.Info("Updating CoreDB", "namespace", namespace, "name", name)
		if err := e.client.Update(ctx, existing); err != nil {
			if apierrors.IsConflict(err) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to update CoreDB %s/%s: %w", namespace, name, err)
		}
		return existing, nil
	})
}

// RestartCoreDB stamps the restart annotation on the instance, which the
// CoreDB operator acts on by bouncing the pods. A NotFound error is returned
// unwrapped so callers can distinguish restarting a missing instance.
func (e *Engine) RestartCoreDB(ctx context.Context, namespace, name string) error {
	return retry.New(
		retry.Attempts(conflictRetries),
		retry.RetryIf(apierrors.IsConflict),
		retry.Delay(conflictRetryDelay),
		retry.MaxJitter(conflictRetryDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		existing := &coredbv1alpha1.CoreDB{}
		if err := e.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, existing); err != nil {
			return err
		}

		if existing.Annotations == nil {
			existing.Annotations = map[string]string{}
		}
		existing.Annotations[metadata.AnnotationRestartedAt] = time.Now().UTC().Format(time.RFC3339)
		e.log.Info("Restarting CoreDB", "namespace", namespace, "name", name)
		if err := e.client.Update(ctx, existing); err != nil {
			if apierrors.IsConflict(err) {
				return err
			}
			return fmt.Errorf("failed to restart CoreDB %s/%s: %w", namespace, name, err)
		}
		return nil
	})
}

// DeleteCoreDB removes the instance. Absence is success, not an error.
func (e *Engine) DeleteCoreDB(ctx context.Context, namespace, name string) error {
	cdb := &coredbv1alpha1.CoreDB{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
	e.log.Info("Deleting CoreDB", "namespace", namespace, "name", name)
	if err := client.IgnoreNotFound(e.client.Delete(ctx, cdb)); err != nil {
		return fmt.Errorf("failed to delete CoreDB %s/%s: %w", namespace, name, err)
	}
	return nil
}

// DeleteNamespaceIfEmpty removes the namespace only when no managed
// resources remain in it. Returns true when the namespace was deleted or was
// already gone.
func (e *Engine) DeleteNamespaceIfEmpty(ctx context.Context, namespace string) (bool, error) {
	remaining := &coredbv1alpha1.CoreDBList{}
	if err := e.client.List(ctx, remaining, client.InNamespace(namespace)); err != nil {
		return false, fmt.Errorf("failed to list CoreDBs in namespace %q: %w", namespace, err)
	}
	if len(remaining.Items) > 0 {
		e.log.Info("Namespace still has managed resources, keeping it",
			"namespace", namespace, "remaining", len(remaining.Items))
		return false, nil
	}

	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: namespace}}
	e.log.Info("Deleting namespace", "namespace", namespace)
	if err := client.IgnoreNotFound(e.client.Delete(ctx, ns)); err != nil {
		return false, fmt.Errorf("failed to delete namespace %q: %w", namespace, err)
	}
	return true, nil
}
