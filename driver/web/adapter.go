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

package web

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"access/core"
	"access/driver/web/rest"
	"access/utils"
)

// Adapter entity
type Adapter struct {
	port string
	auth *Auth

	apisHandler      *rest.ApisHandler
	adminApisHandler *rest.AdminApisHandler
}

// Start starts the web server
func (we *Adapter) Start() {
	router := mux.NewRouter().StrictSlash(true)

	subrouter := router.PathPrefix("/acc").Subrouter()
	subrouter.HandleFunc("/version", we.wrapFunc(we.apisHandler.Version)).Methods("GET")

	//handle rest apis
	restSubrouter := router.PathPrefix("/acc/api").Subrouter()
	restSubrouter.HandleFunc("/groups", we.apiKeyAuthWrapFunc(we.apisHandler.GetGroups)).Methods("GET")
	restSubrouter.HandleFunc("/group/{id}", we.apiKeyAuthWrapFunc(we.apisHandler.GetGroup)).Methods("GET")
	restSubrouter.HandleFunc("/app/{id}", we.apiKeyAuthWrapFunc(we.apisHandler.GetApp)).Methods("GET")
	restSubrouter.HandleFunc("/tag/{id}", we.apiKeyAuthWrapFunc(we.apisHandler.GetTag)).Methods("GET")
	restSubrouter.HandleFunc("/requests/access", we.apiKeyAuthWrapFunc(we.apisHandler.CreateAccessRequest)).Methods("POST")
	restSubrouter.HandleFunc("/requests/role", we.apiKeyAuthWrapFunc(we.apisHandler.CreateRoleRequest)).Methods("POST")
	restSubrouter.HandleFunc("/requests/group", we.apiKeyAuthWrapFunc(we.apisHandler.CreateGroupRequest)).Methods("POST")

	// Admin APIs
	adminSubrouter := restSubrouter.PathPrefix("/admin").Subrouter()
	adminSubrouter.HandleFunc("/groups", we.adminAuthWrapFunc(we.adminApisHandler.CreateGroup)).Methods("POST")
	adminSubrouter.HandleFunc("/group/{id}", we.adminAuthWrapFunc(we.adminApisHandler.DeleteGroup)).Methods("DELETE")
	adminSubrouter.HandleFunc("/group/{id}/type", we.adminAuthWrapFunc(we.adminApisHandler.ModifyGroupType)).Methods("PUT")
	adminSubrouter.HandleFunc("/group/{id}/users", we.adminAuthWrapFunc(we.adminApisHandler.ModifyGroupUsers)).Methods("PUT")
	adminSubrouter.HandleFunc("/group/{id}/groups", we.adminAuthWrapFunc(we.adminApisHandler.ModifyRoleGroups)).Methods("PUT")
	adminSubrouter.HandleFunc("/apps", we.adminAuthWrapFunc(we.adminApisHandler.CreateApp)).Methods("POST")
	adminSubrouter.HandleFunc("/app/{id}", we.adminAuthWrapFunc(we.adminApisHandler.DeleteApp)).Methods("DELETE")
	adminSubrouter.HandleFunc("/tags", we.adminAuthWrapFunc(we.adminApisHandler.CreateTag)).Methods("POST")
	adminSubrouter.HandleFunc("/tag/{id}", we.adminAuthWrapFunc(we.adminApisHandler.UpdateTag)).Methods("PUT")
	adminSubrouter.HandleFunc("/tag/{id}", we.adminAuthWrapFunc(we.adminApisHandler.DeleteTag)).Methods("DELETE")
	adminSubrouter.HandleFunc("/tag/{tag-id}/group/{group-id}", we.adminAuthWrapFunc(we.adminApisHandler.AttachTagToGroup)).Methods("PUT")
	adminSubrouter.HandleFunc("/tag/{tag-id}/group/{group-id}", we.adminAuthWrapFunc(we.adminApisHandler.DetachTagFromGroup)).Methods("DELETE")
	adminSubrouter.HandleFunc("/tag/{tag-id}/app/{app-id}", we.adminAuthWrapFunc(we.adminApisHandler.AttachTagToApp)).Methods("PUT")
	adminSubrouter.HandleFunc("/tag/{tag-id}/app/{app-id}", we.adminAuthWrapFunc(we.adminApisHandler.DetachTagFromApp)).Methods("DELETE")
	adminSubrouter.HandleFunc("/requests/access/{id}/approve", we.adminAuthWrapFunc(we.adminApisHandler.ApproveAccessRequest)).Methods("PUT")
	adminSubrouter.HandleFunc("/requests/access/{id}/reject", we.adminAuthWrapFunc(we.adminApisHandler.RejectAccessRequest)).Methods("PUT")
	adminSubrouter.HandleFunc("/requests/role/{id}/approve", we.adminAuthWrapFunc(we.adminApisHandler.ApproveRoleRequest)).Methods("PUT")
	adminSubrouter.HandleFunc("/requests/role/{id}/reject", we.adminAuthWrapFunc(we.adminApisHandler.RejectRoleRequest)).Methods("PUT")
	adminSubrouter.HandleFunc("/requests/group/{id}/approve", we.adminAuthWrapFunc(we.adminApisHandler.ApproveGroupRequest)).Methods("PUT")
	adminSubrouter.HandleFunc("/requests/group/{id}/reject", we.adminAuthWrapFunc(we.adminApisHandler.RejectGroupRequest)).Methods("PUT")
	adminSubrouter.HandleFunc("/synchronize", we.adminAuthWrapFunc(we.adminApisHandler.Synchronize)).Methods("POST")

	log.Fatal(http.ListenAndServe(":"+we.port, router))
}

func (we *Adapter) wrapFunc(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		utils.LogRequest(req)

		handler(w, req)
	}
}

type authFunc = func(string, http.ResponseWriter, *http.Request)

func (we *Adapter) apiKeyAuthWrapFunc(handler authFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		utils.LogRequest(req)

		userID, authenticated := we.auth.apiKeyCheck(w, req)
		if !authenticated {
			return
		}
		handler(userID, w, req)
	}
}

func (we *Adapter) adminAuthWrapFunc(handler authFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		utils.LogRequest(req)

		userID, authenticated := we.auth.adminCheck(w, req)
		if !authenticated {
			return
		}
		handler(userID, w, req)
	}
}

// NewWebAdapter creates new WebAdapter instance
func NewWebAdapter(app *core.Application, port string, apiKeys []string, adminAPIKeys []string) *Adapter {
	auth := NewAuth(app, apiKeys, adminAPIKeys)
	apisHandler := rest.NewApisHandler(app)
	adminApisHandler := rest.NewAdminApisHandler(app)

	return &Adapter{port: port, auth: auth, apisHandler: apisHandler, adminApisHandler: adminApisHandler}
}
