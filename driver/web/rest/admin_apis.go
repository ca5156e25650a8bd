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

package rest

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"access/core"
)

//AdminApisHandler handles the admin rest APIs implementation
type AdminApisHandler struct {
	app *core.Application
}

//NewAdminApisHandler creates new admin rest Handler instance
func NewAdminApisHandler(app *core.Application) *AdminApisHandler {
	return &AdminApisHandler{app: app}
}

type createGroupBody struct {
	Type        string  `json:"type"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	AppID       *string `json:"app_id"`
	IsManaged   bool    `json:"is_managed"`
} //@name createGroupBody

//CreateGroup creates a group
func (h *AdminApisHandler) CreateGroup(currentUserID string, w http.ResponseWriter, r *http.Request) {
	var body createGroupBody
	if !readBody(w, r, &body) {
		return
	}

	group, err := h.app.Services.CreateGroup(r.Context(), core.CreateGroupInput{
		Type: body.Type, Name: body.Name, Description: body.Description,
		AppID: body.AppID, IsManaged: body.IsManaged, ActorID: currentUserID})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, group)
}

//DeleteGroup deletes a group
func (h *AdminApisHandler) DeleteGroup(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := params["id"]

	err := h.app.Services.DeleteGroup(r.Context(), id, currentUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type modifyGroupTypeBody struct {
	NewType string  `json:"new_type"`
	AppID   *string `json:"app_id"`
} //@name modifyGroupTypeBody

//ModifyGroupType switches a group's type
func (h *AdminApisHandler) ModifyGroupType(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := params["id"]

	var body modifyGroupTypeBody
	if !readBody(w, r, &body) {
		return
	}

	group, err := h.app.Services.ModifyGroupType(r.Context(), core.ModifyGroupTypeInput{
		GroupID: id, NewType: body.NewType, AppID: body.AppID, ActorID: currentUserID})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, group)
}

type modifyGroupUsersBody struct {
	UsersAddedEndedAt *time.Time `json:"users_added_ended_at"`

	MembersToAdd []string `json:"members_to_add"`
	OwnersToAdd  []string `json:"owners_to_add"`

	MembersShouldExpire []string `json:"members_should_expire"`
	OwnersShouldExpire  []string `json:"owners_should_expire"`

	MembersToRemove []string `json:"members_to_remove"`
	OwnersToRemove  []string `json:"owners_to_remove"`

	Reason string `json:"reason"`
} //@name modifyGroupUsersBody

//ModifyGroupUsers applies a batch of membership and ownership changes
func (h *AdminApisHandler) ModifyGroupUsers(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := params["id"]

	var body modifyGroupUsersBody
	if !readBody(w, r, &body) {
		return
	}

	input := core.NewModifyGroupUsersInput(id, currentUserID, body.Reason)
	input.UsersAddedEndedAt = body.UsersAddedEndedAt
	input.MembersToAdd = body.MembersToAdd
	input.OwnersToAdd = body.OwnersToAdd
	input.MembersShouldExpire = body.MembersShouldExpire
	input.OwnersShouldExpire = body.OwnersShouldExpire
	input.MembersToRemove = body.MembersToRemove
	input.OwnersToRemove = body.OwnersToRemove

	group, err := h.app.Services.ModifyGroupUsers(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, group)
}

type modifyRoleGroupsBody struct {
	GroupsAddedEndedAt *time.Time `json:"groups_added_ended_at"`

	GroupsToAdd      []string `json:"groups_to_add"`
	OwnerGroupsToAdd []string `json:"owner_groups_to_add"`

	GroupsToRemove      []string `json:"groups_to_remove"`
	OwnerGroupsToRemove []string `json:"owner_groups_to_remove"`

	Reason string `json:"reason"`
} //@name modifyRoleGroupsBody

//ModifyRoleGroups applies a batch of role association changes
func (h *AdminApisHandler) ModifyRoleGroups(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := params["id"]

	var body modifyRoleGroupsBody
	if !readBody(w, r, &body) {
		return
	}

	input := core.NewModifyRoleGroupsInput(id, currentUserID, body.Reason)
	input.GroupsAddedEndedAt = body.GroupsAddedEndedAt
	input.GroupsToAdd = body.GroupsToAdd
	input.OwnerGroupsToAdd = body.OwnerGroupsToAdd
	input.GroupsToRemove = body.GroupsToRemove
	input.OwnerGroupsToRemove = body.OwnerGroupsToRemove

	group, err := h.app.Services.ModifyRoleGroups(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, group)
}

type createAppBody struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	OwnerIDs    []string `json:"owner_ids"`
	GroupNames  []string `json:"group_names"`
	TagIDs      []string `json:"tag_ids"`
} //@name createAppBody

//CreateApp creates an app with its owner group
func (h *AdminApisHandler) CreateApp(currentUserID string, w http.ResponseWriter, r *http.Request) {
	var body createAppBody
	if !readBody(w, r, &body) {
		return
	}

	app, err := h.app.Services.CreateApp(r.Context(), core.CreateAppInput{
		Name: body.Name, Description: body.Description, OwnerIDs: body.OwnerIDs,
		GroupNames: body.GroupNames, TagIDs: body.TagIDs, ActorID: currentUserID})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, app)
}

//DeleteApp deletes an app and its groups
func (h *AdminApisHandler) DeleteApp(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := params["id"]

	err := h.app.Services.DeleteApp(r.Context(), id, currentUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createTagBody struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Enabled     bool                   `json:"enabled"`
	Constraints map[string]interface{} `json:"constraints"`
} //@name createTagBody

//CreateTag creates a tag
func (h *AdminApisHandler) CreateTag(currentUserID string, w http.ResponseWriter, r *http.Request) {
	var body createTagBody
	if !readBody(w, r, &body) {
		return
	}

	tag, err := h.app.Services.CreateTag(core.CreateTagInput{
		Name: body.Name, Description: body.Description, Enabled: body.Enabled,
		Constraints: body.Constraints, ActorID: currentUserID})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, tag)
}

type updateTagBody struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	Enabled     *bool                  `json:"enabled"`
	Constraints map[string]interface{} `json:"constraints"`
} //@name updateTagBody

//UpdateTag updates a tag and re-clamps the groups it governs
func (h *AdminApisHandler) UpdateTag(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := params["id"]

	var body updateTagBody
	if !readBody(w, r, &body) {
		return
	}

	tag, err := h.app.Services.UpdateTag(core.UpdateTagInput{
		TagID: id, Name: body.Name, Description: body.Description,
		Enabled: body.Enabled, Constraints: body.Constraints, ActorID: currentUserID})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, tag)
}

//DeleteTag deletes a tag and ends its attachments
func (h *AdminApisHandler) DeleteTag(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := params["id"]

	err := h.app.Services.DeleteTag(id, currentUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

//AttachTagToGroup attaches a tag to a group
func (h *AdminApisHandler) AttachTagToGroup(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)

	err := h.app.Services.AttachTagToGroup(params["tag-id"], params["group-id"], currentUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

//DetachTagFromGroup detaches a tag from a group
func (h *AdminApisHandler) DetachTagFromGroup(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)

	err := h.app.Services.DetachTagFromGroup(params["tag-id"], params["group-id"], currentUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

//AttachTagToApp attaches a tag to an app and its groups
func (h *AdminApisHandler) AttachTagToApp(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)

	err := h.app.Services.AttachTagToApp(params["tag-id"], params["app-id"], currentUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

//DetachTagFromApp detaches a tag from an app and its groups
func (h *AdminApisHandler) DetachTagFromApp(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)

	err := h.app.Services.DetachTagFromApp(params["tag-id"], params["app-id"], currentUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type resolveRequestBody struct {
	Reason   *string    `json:"reason"`
	EndingAt *time.Time `json:"ending_at"`
} //@name resolveRequestBody

//ApproveAccessRequest approves an access request
func (h *AdminApisHandler) ApproveAccessRequest(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)

	var body resolveRequestBody
	if !readBody(w, r, &body) {
		return
	}

	request, err := h.app.Services.ApproveAccessRequest(r.Context(), core.ResolveRequestInput{
		RequestID: params["id"], ResolverID: currentUserID,
		ResolutionReason: body.Reason, ApprovalEndingAt: body.EndingAt})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, request)
}

//RejectAccessRequest rejects an access request
func (h *AdminApisHandler) RejectAccessRequest(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)

	var body resolveRequestBody
	if !readBody(w, r, &body) {
		return
	}

	request, err := h.app.Services.RejectAccessRequest(r.Context(), core.ResolveRequestInput{
		RequestID: params["id"], ResolverID: currentUserID, ResolutionReason: body.Reason})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, request)
}

//ApproveRoleRequest approves a role association request
func (h *AdminApisHandler) ApproveRoleRequest(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)

	var body resolveRequestBody
	if !readBody(w, r, &body) {
		return
	}

	request, err := h.app.Services.ApproveRoleRequest(r.Context(), core.ResolveRequestInput{
		RequestID: params["id"], ResolverID: currentUserID,
		ResolutionReason: body.Reason, ApprovalEndingAt: body.EndingAt})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, request)
}

//RejectRoleRequest rejects a role association request
func (h *AdminApisHandler) RejectRoleRequest(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)

	var body resolveRequestBody
	if !readBody(w, r, &body) {
		return
	}

	request, err := h.app.Services.RejectRoleRequest(r.Context(), core.ResolveRequestInput{
		RequestID: params["id"], ResolverID: currentUserID, ResolutionReason: body.Reason})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, request)
}

type approveGroupRequestBody struct {
	Reason      *string `json:"reason"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Type        *string `json:"type"`
	AppID       *string `json:"app_id"`
} //@name approveGroupRequestBody

//ApproveGroupRequest approves a group creation request, optionally editing it
func (h *AdminApisHandler) ApproveGroupRequest(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)

	var body approveGroupRequestBody
	if !readBody(w, r, &body) {
		return
	}

	request, err := h.app.Services.ApproveGroupRequest(r.Context(), core.ResolveGroupRequestInput{
		RequestID: params["id"], ResolverID: currentUserID, ResolutionReason: body.Reason,
		ResolvedName: body.Name, ResolvedDescription: body.Description,
		ResolvedType: body.Type, ResolvedAppID: body.AppID})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, request)
}

//RejectGroupRequest rejects a group creation request
func (h *AdminApisHandler) RejectGroupRequest(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)

	var body resolveRequestBody
	if !readBody(w, r, &body) {
		return
	}

	request, err := h.app.Services.RejectGroupRequest(r.Context(), core.ResolveRequestInput{
		RequestID: params["id"], ResolverID: currentUserID, ResolutionReason: body.Reason})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, request)
}

//Synchronize triggers a reconcile run
func (h *AdminApisHandler) Synchronize(currentUserID string, w http.ResponseWriter, r *http.Request) {
	err := h.app.Services.Reconcile(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// readBody reads and unmarshals the request body; an empty body reads as the
// zero value so resolve calls can omit it
func readBody(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	data, err := ioutil.ReadAll(r.Body)
	if err != nil {
		log.Printf("error reading the request body - %s", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	if len(data) == 0 {
		return true
	}

	err = json.Unmarshal(data, into)
	if err != nil {
		log.Printf("error unmarshalling the request body - %s", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}
