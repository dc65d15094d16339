package smartcontext

import (
	"context"

	"github.com/SanteonNL/orca/smarthost/events"
)

const (
	ScopeUser    = "user"
	ScopePatient = "patient"

	EventUserChanged    = "CONTEXT.CHANGED.User"
	EventPatientChanged = "CONTEXT.CHANGED.Patient"
)

// ActiveID returns the ID of the active resource, or an empty string if none is active.
type ActiveID func() string

// NewUserContext creates the context that provides the active user to SMART apps.
func NewUserContext(bus events.Bus, activeUser ActiveID) *Context {
	return New(ScopeUser, EventUserChanged, bus, activeResourceUpdater(ScopeUser, activeUser))
}

// NewPatientContext creates the context that provides the active patient to SMART apps.
func NewPatientContext(bus events.Bus, activePatient ActiveID) *Context {
	return New(ScopePatient, EventPatientChanged, bus, activeResourceUpdater(ScopePatient, activePatient))
}

func activeResourceUpdater(key string, activeID ActiveID) UpdateFunc {
	return func(_ context.Context, contextMap ContextMap) {
		if id := activeID(); id != "" {
			contextMap[key] = id
		}
	}
}
