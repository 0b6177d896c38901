// Package clienttest provides testing utilities for apply and watcher tests.
package clienttest

import (
	"context"

	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// FailureConfig configures when the fake client should return errors.
// Each field is a function that receives the object/key and returns an error
// if the operation should fail.
type FailureConfig struct {
	// OnGet is called before Get operations. Return non-nil to fail the operation.
	OnGet func(key client.ObjectKey) error

	// OnList is called before List operations. Return non-nil to fail the operation.
	OnList func(list client.ObjectList) error

	// OnCreate is called before Create operations. Return non-nil to fail the operation.
	OnCreate func(obj client.Object) error

	// OnUpdate is called before Update operations. Return non-nil to fail the operation.
	OnUpdate func(obj client.Object) error

	// OnDelete is called before Delete operations. Return non-nil to fail the operation.
	OnDelete func(obj client.Object) error

	// OnWatch is called before Watch operations. Return non-nil to fail the operation.
	OnWatch func(list client.ObjectList) error
}

// fakeClientWithFailures wraps a watch-capable fake client and injects
// failures based on configuration.
type fakeClientWithFailures struct {
	client.WithWatch
	config *FailureConfig
}

// NewFakeClientWithFailures creates a watch-capable fake client that can be
// configured to fail operations. This is useful for testing error handling
// paths in the apply engine and readiness watcher.
func NewFakeClientWithFailures(baseClient client.WithWatch, config *FailureConfig) client.WithWatch {
	if config == nil {
		config = &FailureConfig{}
	}
	return &fakeClientWithFailures{
		WithWatch: baseClient,
		config:    config,
	}
}

func (c *fakeClientWithFailures) Get(
	ctx context.Context,
	key client.ObjectKey,
	obj client.Object,
	opts ...client.GetOption,
) error {
	if c.config.OnGet != nil {
		if err := c.config.OnGet(key); err != nil {
			return err
		}
	}
	return c.WithWatch.Get(ctx, key, obj, opts...)
}

func (c *fakeClientWithFailures) List(
	ctx context.Context,
	list client.ObjectList,
	opts ...client.ListOption,
) error {
	if c.config.OnList != nil {
		if err := c.config.OnList(list); err != nil {
			return err
		}
	}
	return c.WithWatch.List(ctx, list, opts...)
}

func (c *fakeClientWithFailures) Create(
	ctx context.Context,
	obj client.Object,
	opts ...client.CreateOption,
) error {
	if c.config.OnCreate != nil {
		if err := c.config.OnCreate(obj); err != nil {
			return err
		}
	}
	return c.WithWatch.Create(ctx, obj, opts...)
}

func (c *fakeClientWithFailures) Update(
	ctx context.Context,
	obj client.Object,
	opts ...client.UpdateOption,
) error {
	if c.config.OnUpdate != nil {
		if err := c.config.OnUpdate(obj); err != nil {
			return err
		}
	}
	return c.WithWatch.Update(ctx, obj, opts...)
}

func (c *fakeClientWithFailures) Delete(
	ctx context.Context,
	obj client.Object,
	opts ...client.DeleteOption,
) error {
	if c.config.OnDelete != nil {
		if err := c.config.OnDelete(obj); err != nil {
			return err
		}
	}
	return c.WithWatch.Delete(ctx, obj, opts...)
}

func (c *fakeClientWithFailures) Watch(
	ctx context.Context,
	list client.ObjectList,
	opts ...client.ListOption,
) (watch.Interface, error) {
	if c.config.OnWatch != nil {
		if err := c.config.OnWatch(list); err != nil {
			return nil, err
		}
	}
	return c.WithWatch.Watch(ctx, list, opts...)
}
