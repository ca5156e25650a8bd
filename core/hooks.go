// Copyright 2022 Board of Trustees of the University of Illinois.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"access/core/model"
)

// ConditionalAccessDecision is returned by a conditional-access hook when it
// resolves a request inline. Nil means no decision, let humans approve.
type ConditionalAccessDecision struct {
	Approved bool
	Reason   string
	EndingAt *time.Time
}

// ConditionalAccessHook decides requests synchronously at creation time
type ConditionalAccessHook interface {
	AccessRequestCreated(request model.AccessRequest, group model.Group, tags []model.Tag, requester model.User) *ConditionalAccessDecision
	RoleRequestCreated(request model.RoleRequest, role model.Group, group model.Group, tags []model.Tag, requester model.User) *ConditionalAccessDecision
}

// AuditHook receives an event envelope after every commit
type AuditHook interface {
	AuditEventLogged(event model.AuditEvent)
}

// MetricsHook observes engine operations
type MetricsHook interface {
	ObserveOperation(name string, started time.Time, success bool)
}

// HookRegistry is the process-wide registry of plugin callbacks. It is loaded
// once at startup and treated as append only afterwards.
type HookRegistry struct {
	mutex sync.RWMutex

	conditionalAccess []ConditionalAccessHook
	audit             []AuditHook
	metrics           []MetricsHook
}

// NewHookRegistry creates an empty hook registry
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{}
}

// RegisterConditionalAccessHook subscribes a conditional-access plugin
func (r *HookRegistry) RegisterConditionalAccessHook(hook ConditionalAccessHook) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.conditionalAccess = append(r.conditionalAccess, hook)
}

// RegisterAuditHook subscribes an audit plugin
func (r *HookRegistry) RegisterAuditHook(hook AuditHook) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.audit = append(r.audit, hook)
}

// RegisterMetricsHook subscribes a metrics plugin
func (r *HookRegistry) RegisterMetricsHook(hook MetricsHook) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.metrics = append(r.metrics, hook)
}

func (r *HookRegistry) accessRequestCreated(request model.AccessRequest, group model.Group, tags []model.Tag, requester model.User) *ConditionalAccessDecision {
	r.mutex.RLock()
	hooks := r.conditionalAccess
	r.mutex.RUnlock()

	for _, hook := range hooks {
		decision := func() (decision *ConditionalAccessDecision) {
			defer recoverHookPanic("conditional access")
			return hook.AccessRequestCreated(request, group, tags, requester)
		}()
		if decision != nil {
			return decision
		}
	}
	return nil
}

func (r *HookRegistry) roleRequestCreated(request model.RoleRequest, role model.Group, group model.Group, tags []model.Tag, requester model.User) *ConditionalAccessDecision {
	r.mutex.RLock()
	hooks := r.conditionalAccess
	r.mutex.RUnlock()

	for _, hook := range hooks {
		decision := func() (decision *ConditionalAccessDecision) {
			defer recoverHookPanic("conditional access")
			return hook.RoleRequestCreated(request, role, group, tags, requester)
		}()
		if decision != nil {
			return decision
		}
	}
	return nil
}

func (r *HookRegistry) auditEventLogged(event model.AuditEvent) {
	r.mutex.RLock()
	hooks := r.audit
	r.mutex.RUnlock()

	for _, hook := range hooks {
		func() {
			defer recoverHookPanic("audit")
			hook.AuditEventLogged(event)
		}()
	}
}

func (r *HookRegistry) observeOperation(name string, started time.Time, success bool) {
	r.mutex.RLock()
	hooks := r.metrics
	r.mutex.RUnlock()

	for _, hook := range hooks {
		func() {
			defer recoverHookPanic("metrics")
			hook.ObserveOperation(name, started, success)
		}()
	}
}

// conditionalAccessOn says if the synchronous request-created hooks may run
func (app *Application) conditionalAccessOn() bool {
	return app.config != nil && app.config.ConditionalAccessEnabled
}

func recoverHookPanic(kind string) {
	if recovered := recover(); recovered != nil {
		log.Printf("%s hook panic swallowed: %v", kind, recovered)
	}
}

// fireAuditEvent builds an envelope and hands it to the audit hooks
func (app *Application) fireAuditEvent(eventType string, actorID string, targetType string, targetID string, targetName *string, action string, reason *string, payload map[string]interface{}) {
	event := model.AuditEvent{
		ID:         uuid.NewString(),
		EventType:  eventType,
		Timestamp:  time.Now(),
		ActorID:    actorID,
		TargetType: targetType,
		TargetID:   targetID,
		TargetName: targetName,
		Action:     action,
		Reason:     reason,
		Payload:    payload,
		Metadata:   map[string]interface{}{"service": "access", "version": app.version},
	}
	app.hooks.auditEventLogged(event)
}
