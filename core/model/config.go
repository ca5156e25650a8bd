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

package model

import "time"

// ApplicationConfig holds the runtime configuration of the service
type ApplicationConfig struct {
	// NameRegex validates group, app and tag names; NameRegexError is surfaced to callers
	NameRegex      string `json:"name_regex"`
	NameRegexError string `json:"name_regex_error"`

	DescriptionRequired bool `json:"description_required"`

	// RequestTTL bounds how long an access request may stay pending
	RequestTTL time.Duration `json:"request_ttl"`

	// ExpiryNotificationWindow is how far ahead expiring grants are announced
	ExpiryNotificationWindow time.Duration `json:"expiry_notification_window"`

	// AuthoritativeSync pushes store membership to the IdP when true; mirrors the
	// IdP into the store when false
	AuthoritativeSync bool `json:"authoritative_sync"`

	// Reason gate configuration: a reason equal to the template verbatim is
	// rejected, and every required substring must appear
	ReasonTemplate           string   `json:"reason_template"`
	RequiredReasonSubstrings []string `json:"required_reason_substrings"`

	// ConditionalAccessEnabled toggles the synchronous request-created hook
	ConditionalAccessEnabled bool `json:"conditional_access_enabled"`

	ReconcileInterval time.Duration `json:"reconcile_interval"`
	SyncTimeout       time.Duration `json:"sync_timeout"`

	// IdPCallTimeout bounds each deferred IdP call after commit
	IdPCallTimeout time.Duration `json:"idp_call_timeout"`
}

// SyncTimes tracks reconciler bookkeeping per sync key
type SyncTimes struct {
	Key       string     `json:"key" bson:"key"`
	StartTime *time.Time `json:"start_time" bson:"start_time"`
	EndTime   *time.Time `json:"end_time" bson:"end_time"`
}
