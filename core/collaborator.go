package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/leeforge/runtimekit/errors"
	"github.com/leeforge/runtimekit/metrics"
)

// Collaborator is an external component that plugs into the runtime.
// Attach receives the assembled Core and wires the collaborator into it;
// Detach releases whatever Attach acquired.
type Collaborator interface {
	Name() string
	Attach(ctx context.Context, c *Core) error
	Detach(ctx context.Context) error
}

// HealthReporter is an optional collaborator capability. When implemented,
// the health check is registered under the collaborator's name for as long
// as it stays attached.
type HealthReporter interface {
	HealthCheck(ctx context.Context) metrics.Check
}

// Subscriber is an optional collaborator capability declaring the bus topics
// the collaborator consumes, for introspection.
type Subscriber interface {
	Topics() []string
}

// CollaboratorInfo describes one attached collaborator.
type CollaboratorInfo struct {
	Name   string   `json:"name"`
	Topics []string `json:"topics,omitempty"`
	Health bool     `json:"health"`
}

type attachedCollaborator struct {
	col    Collaborator
	topics []string
	health bool
}

// Attach wires collaborators into the runtime in argument order. A failed
// attach stops the loop and leaves the earlier collaborators attached.
// Capabilities are detected by type assertion: health reporters join the
// aggregator, subscribers have their topics recorded.
func (c *Core) Attach(ctx context.Context, colls ...Collaborator) error {
	for _, col := range colls {
		name := col.Name()
		if name == "" {
			return apperrors.New(apperrors.KindValidation, "collaborator has no name")
		}

		c.mu.Lock()
		dup := false
		for _, a := range c.collaborators {
			if a.col.Name() == name {
				dup = true
				break
			}
		}
		c.mu.Unlock()
		if dup {
			return apperrors.Newf(apperrors.KindValidation,
				"collaborator %q already attached", name)
		}

		if err := col.Attach(ctx, c); err != nil {
			return apperrors.OperationFailed(fmt.Sprintf("attach collaborator %q", name), err)
		}

		att := attachedCollaborator{col: col}
		if hr, ok := col.(HealthReporter); ok {
			c.Health.RegisterProvider(name, hr.HealthCheck)
			att.health = true
		}
		if sub, ok := col.(Subscriber); ok {
			att.topics = append([]string(nil), sub.Topics()...)
		}

		c.mu.Lock()
		c.collaborators = append(c.collaborators, att)
		c.mu.Unlock()

		c.Logger.Info("collaborator attached",
			zap.String("name", name),
			zap.Strings("topics", att.topics),
			zap.Bool("health", att.health))
	}
	return nil
}

// Detach releases every attached collaborator in reverse attach order and
// unregisters their health providers. Failures are collected; the loop
// always runs to completion.
func (c *Core) Detach(ctx context.Context) error {
	c.mu.Lock()
	atts := c.collaborators
	c.collaborators = nil
	c.mu.Unlock()

	var errs []error
	for i := len(atts) - 1; i >= 0; i-- {
		att := atts[i]
		name := att.col.Name()
		if att.health {
			c.Health.UnregisterProvider(name)
		}
		if err := att.col.Detach(ctx); err != nil {
			errs = append(errs, apperrors.OperationFailed(
				fmt.Sprintf("detach collaborator %q", name), err))
			continue
		}
		c.Logger.Info("collaborator detached", zap.String("name", name))
	}

	if len(errs) > 0 {
		return apperrors.Aggregate("collaborator detach", errs...)
	}
	return nil
}

// Collaborators returns a snapshot of the attached collaborators in attach
// order.
func (c *Core) Collaborators() []CollaboratorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]CollaboratorInfo, 0, len(c.collaborators))
	for _, a := range c.collaborators {
		out = append(out, CollaboratorInfo{
			Name:   a.col.Name(),
			Topics: append([]string(nil), a.topics...),
			Health: a.health,
		})
	}
	return out
}
