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
	"access/core/model"
)

//ApisHandler handles the rest APIs implementation
type ApisHandler struct {
	app *core.Application
}

//NewApisHandler creates new rest Handler instance
func NewApisHandler(app *core.Application) *ApisHandler {
	return &ApisHandler{app: app}
}

//Version gives the service version
func (h *ApisHandler) Version(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(h.app.Services.GetVersion()))
}

//GetGroup gives a group by id
func (h *ApisHandler) GetGroup(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := params["id"]
	if len(id) == 0 {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	group, err := h.app.Services.GetGroup(id)
	if err != nil {
		log.Printf("error getting group %s - %s", id, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if group == nil || group.IsDeleted() {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	writeJSON(w, group)
}

//GetGroups gives the groups matching the query
func (h *ApisHandler) GetGroups(currentUserID string, w http.ResponseWriter, r *http.Request) {
	filter := model.GroupFilter{}
	query := r.URL.Query()
	if groupType := query.Get("type"); len(groupType) > 0 {
		filter.Types = []string{groupType}
	}
	if appID := query.Get("app_id"); len(appID) > 0 {
		filter.AppID = &appID
	}
	if query.Get("managed") == "true" {
		filter.ManagedOnly = true
	}

	groups, err := h.app.Services.GetGroups(filter)
	if err != nil {
		log.Printf("error getting groups - %s", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if groups == nil {
		groups = make([]model.Group, 0)
	}

	writeJSON(w, groups)
}

//GetApp gives an app by id
func (h *ApisHandler) GetApp(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := params["id"]

	app, err := h.app.Services.GetApp(id)
	if err != nil {
		log.Printf("error getting app %s - %s", id, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if app == nil || app.IsDeleted() {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	writeJSON(w, app)
}

//GetTag gives a tag by id
func (h *ApisHandler) GetTag(currentUserID string, w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := params["id"]

	tag, err := h.app.Services.GetTag(id)
	if err != nil {
		log.Printf("error getting tag %s - %s", id, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if tag == nil || tag.IsDeleted() {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	writeJSON(w, tag)
}

type createAccessRequestBody struct {
	GroupID          string     `json:"group_id"`
	RequestOwnership bool       `json:"request_ownership"`
	RequestReason    string     `json:"request_reason"`
	RequestEndingAt  *time.Time `json:"request_ending_at"`
} //@name createAccessRequestBody

//CreateAccessRequest creates an access request for the current user
func (h *ApisHandler) CreateAccessRequest(currentUserID string, w http.ResponseWriter, r *http.Request) {
	data, err := ioutil.ReadAll(r.Body)
	if err != nil {
		log.Printf("error reading the create access request body - %s", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var body createAccessRequestBody
	err = json.Unmarshal(data, &body)
	if err != nil {
		log.Printf("error unmarshalling the create access request body - %s", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	request, err := h.app.Services.CreateAccessRequest(r.Context(), core.CreateAccessRequestInput{
		GroupID: body.GroupID, RequesterID: currentUserID,
		RequestOwnership: body.RequestOwnership, RequestReason: body.RequestReason,
		RequestEndingAt: body.RequestEndingAt})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, request)
}

type createRoleRequestBody struct {
	RoleGroupID      string     `json:"role_group_id"`
	GroupID          string     `json:"group_id"`
	RequestOwnership bool       `json:"request_ownership"`
	RequestReason    string     `json:"request_reason"`
	RequestEndingAt  *time.Time `json:"request_ending_at"`
} //@name createRoleRequestBody

//CreateRoleRequest creates a role association request for the current user
func (h *ApisHandler) CreateRoleRequest(currentUserID string, w http.ResponseWriter, r *http.Request) {
	data, err := ioutil.ReadAll(r.Body)
	if err != nil {
		log.Printf("error reading the create role request body - %s", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var body createRoleRequestBody
	err = json.Unmarshal(data, &body)
	if err != nil {
		log.Printf("error unmarshalling the create role request body - %s", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	request, err := h.app.Services.CreateRoleRequest(r.Context(), core.CreateRoleRequestInput{
		RequesterID: currentUserID, RequesterRoleID: body.RoleGroupID, GroupID: body.GroupID,
		RequestOwnership: body.RequestOwnership, RequestReason: body.RequestReason,
		RequestEndingAt: body.RequestEndingAt})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, request)
}

type createGroupRequestBody struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Type          string  `json:"type"`
	AppID         *string `json:"app_id"`
	RequestReason string  `json:"request_reason"`
} //@name createGroupRequestBody

//CreateGroupRequest creates a group creation request for the current user
func (h *ApisHandler) CreateGroupRequest(currentUserID string, w http.ResponseWriter, r *http.Request) {
	data, err := ioutil.ReadAll(r.Body)
	if err != nil {
		log.Printf("error reading the create group request body - %s", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var body createGroupRequestBody
	err = json.Unmarshal(data, &body)
	if err != nil {
		log.Printf("error unmarshalling the create group request body - %s", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	request, err := h.app.Services.CreateGroupRequest(r.Context(), core.CreateGroupRequestInput{
		RequesterID: currentUserID, Name: body.Name, Description: body.Description,
		Type: body.Type, AppID: body.AppID, RequestReason: body.RequestReason})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, request)
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("error marshalling the response - %s", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch core.ErrorKind(err) {
	case core.KindValidation:
		status = http.StatusBadRequest
	case core.KindConflict:
		status = http.StatusConflict
	case core.KindPolicyDenied, core.KindForbidden:
		status = http.StatusForbidden
	case core.KindNotFound:
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		log.Printf("internal error - %s", err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}
