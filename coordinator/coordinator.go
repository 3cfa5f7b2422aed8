/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package coordinator

import (
	"context"
	"net/http"
	"time"

	"github.com/couchbase/stellar-slotmap/common/coordtree"
	"github.com/couchbase/stellar-slotmap/pkg/metrics"
	"github.com/couchbase/stellar-slotmap/pkg/version"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RegistryLockName is the tree lock serialising every change to /nodes.
const RegistryLockName = "registry"

const DefaultAgentPort = 33333

type Config struct {
	Logger *zap.Logger
	Tree   coordtree.Tree
	Store  StoreClient

	// Probe checks an endpoint accepts TCP connections.  It defaults to a
	// plain dial bounded by ProbeTimeout.
	Probe        ProbeFunc
	ProbeTimeout time.Duration

	// LockTimeout bounds how long an operation waits for another instance
	// holding the registry lock.
	LockTimeout time.Duration

	AgentPort         int
	HealthHTTPClient  *http.Client
	HealthMaxAttempts int
}

type Coordinator struct {
	logger   *zap.Logger
	tree     coordtree.Tree
	registry *Registry
	metrics  *metrics.SlotmapMetrics
	tracer   trace.Tracer

	lockTimeout time.Duration

	agentPort         int
	healthClient      *http.Client
	healthMaxAttempts int
}

func NewCoordinator(config *Config) (*Coordinator, error) {
	if config.Tree == nil {
		return nil, errors.New("a coordination tree is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	lockTimeout := config.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 30 * time.Second
	}

	agentPort := config.AgentPort
	if agentPort == 0 {
		agentPort = DefaultAgentPort
	}

	healthClient := config.HealthHTTPClient
	if healthClient == nil {
		healthClient = &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	healthMaxAttempts := config.HealthMaxAttempts
	if healthMaxAttempts <= 0 {
		healthMaxAttempts = 2
	}

	registry := newRegistry(&registryOptions{
		Logger:       logger.Named("registry"),
		Tree:         config.Tree,
		Store:        config.Store,
		Probe:        config.Probe,
		ProbeTimeout: config.ProbeTimeout,
	})

	return &Coordinator{
		logger:   logger,
		tree:     config.Tree,
		registry: registry,
		metrics:  metrics.GetSlotmapMetrics(),
		tracer: otel.Tracer("com.couchbase.stellar-slotmap/coordinator",
			trace.WithInstrumentationVersion(version.GetVersion())),
		lockTimeout:       lockTimeout,
		agentPort:         agentPort,
		healthClient:      healthClient,
		healthMaxAttempts: healthMaxAttempts,
	}, nil
}

func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// instrument runs a top level operation, recording its duration and outcome.
func (c *Coordinator) instrument(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, op)
	defer span.End()

	stime := time.Now()
	err := fn(ctx)
	etime := time.Now()

	result := "success"
	if err != nil {
		result = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result))
	c.metrics.Operations.Add(ctx, 1, attrs)
	c.metrics.OperationDuration.Record(ctx, etime.Sub(stime).Seconds(), attrs)

	if err != nil {
		c.logger.Warn("operation failed",
			zap.String("op", op),
			zap.Duration("took", etime.Sub(stime)),
			zap.Error(err))
	} else {
		c.logger.Info("operation completed",
			zap.String("op", op),
			zap.Duration("took", etime.Sub(stime)))
	}

	return err
}

// withRegistryLock holds the registry lock for the duration of fn.  Only one
// bootstrap or add runs against a tree at any time, which keeps index
// allocation and commit atomic with respect to other instances.
func (c *Coordinator) withRegistryLock(ctx context.Context, fn func(ctx context.Context) error) error {
	owner := uuid.NewString()

	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	unlocker, err := c.tree.Lock(lockCtx, RegistryLockName)
	cancel()
	if err != nil {
		return errors.Wrap(err, "failed to acquire registry lock")
	}

	c.logger.Debug("acquired registry lock", zap.String("owner", owner))

	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), c.lockTimeout)
		defer cancel()

		err := unlocker.Unlock(unlockCtx)
		if err != nil {
			c.logger.Warn("failed to release registry lock",
				zap.String("owner", owner),
				zap.Error(err))
			return
		}

		c.logger.Debug("released registry lock", zap.String("owner", owner))
	}()

	return fn(ctx)
}
