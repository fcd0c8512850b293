// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/orbit-tracing/internal/controller"

type Option interface {
	applyOption(*Controller) *Controller
}
type controllerOptionFunc func(*Controller) *Controller

func (f controllerOptionFunc) applyOption(c *Controller) *Controller {
	return f(c)
}

// WithActivator sets the activator used to enable the function tables of
// captured processes. This defaults to a [remoteactivator.Activator].
func WithActivator(a TargetActivator) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.activator = a
		return c
	})
}
