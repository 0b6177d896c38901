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

package main

import (
	"context"
	"flag"
	"os"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	coredbv1alpha1 "github.com/coredb-io/conductor/api/v1alpha1"
	"github.com/coredb-io/conductor/internal/config"
	"github.com/coredb-io/conductor/pkg/apply"
	"github.com/coredb-io/conductor/pkg/conductor"
	"github.com/coredb-io/conductor/pkg/queue"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(coredbv1alpha1.AddToScheme(scheme))
}

func main() {
	var metricsAddr string
	var probeAddr string

	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metrics endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg, err := config.Load()
	if err != nil {
		setupLog.Error(err, "invalid configuration")
		os.Exit(1)
	}

	// The manager only serves metrics and health probes here; reconciliation
	// is driven by the queue, not by cluster watches, and multiple replicas
	// compete on message leases instead of electing a leader.
	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: metricsAddr},
		HealthProbeBindAddress: probeAddr,
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	// Readiness waits need watch support, which the manager's cached client
	// does not expose.
	watchClient, err := client.NewWithWatch(mgr.GetConfig(), client.Options{Scheme: scheme})
	if err != nil {
		setupLog.Error(err, "unable to create watch client")
		os.Exit(1)
	}

	ctx := ctrl.SetupSignalHandler()

	q, err := queue.NewPGMQ(ctx, cfg.PostgresConnURL)
	if err != nil {
		setupLog.Error(err, "unable to connect to queue database")
		os.Exit(1)
	}
	defer q.Close()

	for _, name := range []string{cfg.ControlPlaneEventsQueue, cfg.DataPlaneEventsQueue} {
		if err := q.Create(ctx, name); err != nil {
			setupLog.Error(err, "unable to create queue", "queue", name)
			os.Exit(1)
		}
	}

	cond := conductor.New(q, watchClient, conductor.Config{
		DataPlaneID:       cfg.DataPlaneID,
		RequestQueue:      cfg.ControlPlaneEventsQueue,
		ReportQueue:       cfg.DataPlaneEventsQueue,
		BaseDomain:        cfg.BaseDomain,
		Workers:           cfg.Workers,
		VisibilityTimeout: cfg.VisibilityTimeout,
		ReadinessTimeout:  cfg.ReadinessTimeout,
		PollInterval:      cfg.PollInterval,
		Defaults: apply.Defaults{
			Image:    cfg.DefaultImage,
			CPU:      cfg.DefaultCPU,
			Memory:   cfg.DefaultMemory,
			Storage:  cfg.DefaultStorage,
			Port:     cfg.DefaultPort,
			Replicas: cfg.DefaultReplicas,
		},
	}, ctrl.Log)

	if err := mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
		return cond.Run(ctx)
	})); err != nil {
		setupLog.Error(err, "unable to add conductor to manager")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting conductor", "dataPlaneID", cfg.DataPlaneID)
	if err := mgr.Start(ctx); err != nil {
		setupLog.Error(err, "problem running conductor")
		os.Exit(1)
	}
}
