// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package action defines the operations a job can ask of a device.
//
// An Action pairs a command name with a parameter schema and a Run
// body. The built-in actions register themselves in init, the same way
// device variants do; the job loader resolves command names against
// the registry and binds parameters against each action's schema
// before any device is touched.
//
// Error handling is the action layer's real job. The device and
// client layers report what happened (a timeout, a lost session, a
// refused adb connect); each action decides what that means for the
// job: a boot failure is job-fatal, a test shell timeout is a failed
// result and the shell moves on, an adb connect failure keeps its
// type so the caller can tell infrastructure from image problems.
package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bwenstar/lava/lib/client"
	"github.com/bwenstar/lava/lib/schema"
)

// Action is one executable job step.
type Action interface {
	// Name is the command name jobs use to invoke the action.
	Name() string

	// Schema describes the parameters the action accepts. A nil
	// schema declares a parameterless action.
	Schema() *schema.Object

	// Run executes the action against the job's client. Params have
	// been bound against Schema already.
	Run(ctx context.Context, c *client.Client, params schema.Params) error
}

// Registry maps command names to actions.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry returns an empty registry. Most callers use the package
// default, which the built-in actions populate in init.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action. Registering the same command name twice is
// a programming error and panics.
func (r *Registry) Register(action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[action.Name()]; exists {
		panic(fmt.Sprintf("action: duplicate registration for command %q", action.Name()))
	}
	r.actions[action.Name()] = action
}

// Lookup returns the action for a command name.
func (r *Registry) Lookup(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[name]
	return action, ok
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// Register adds an action to the default registry.
func Register(action Action) {
	defaultRegistry.Register(action)
}

// Lookup returns the action for a command name from the default
// registry.
func Lookup(name string) (Action, bool) {
	return defaultRegistry.Lookup(name)
}

// Names returns the command names in the default registry.
func Names() []string {
	return defaultRegistry.Names()
}
