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

// ReservedAppName designates the system's own admin app. It must never be deleted;
// members of its owner group are the access admins.
const ReservedAppName = "Access"

// App represents an application owning one or more app groups. Exactly one of its
// groups carries is_app_owner while the app is active.
type App struct {
	ID          string `json:"id" bson:"_id"`
	Name        string `json:"name" bson:"name"`
	Description string `json:"description" bson:"description"`

	DeletedAt   *time.Time `json:"deleted_at" bson:"deleted_at"`
	DateCreated time.Time  `json:"date_created" bson:"date_created"`
	DateUpdated *time.Time `json:"date_updated" bson:"date_updated"`
} //@name App

// IsDeleted says if the app has been soft deleted
func (a *App) IsDeleted() bool {
	return a.DeletedAt != nil
}

// IsReserved says if the app is the system admin app
func (a *App) IsReserved() bool {
	return a.Name == ReservedAppName
}
