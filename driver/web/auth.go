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

	"access/core"
	"access/utils"
)

// Auth handler. The gateway in front of the service authenticates the caller
// and forwards the identity in a header; this layer checks the api key and
// reads that identity.
type Auth struct {
	app *core.Application

	apiKeys      []string
	adminAPIKeys []string
}

// NewAuth creates new auth handler
func NewAuth(app *core.Application, apiKeys []string, adminAPIKeys []string) *Auth {
	auth := Auth{app: app, apiKeys: apiKeys, adminAPIKeys: adminAPIKeys}
	return &auth
}

func (auth *Auth) apiKeyCheck(w http.ResponseWriter, r *http.Request) (string, bool) {
	apiKey := getAPIKey(r)
	if !utils.Contains(auth.apiKeys, apiKey) {
		log.Printf("401 - Unauthorized for path %s", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return "", false
	}

	userID := getUserID(r)
	if len(userID) == 0 {
		log.Printf("401 - Missing user identity for path %s", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func (auth *Auth) adminCheck(w http.ResponseWriter, r *http.Request) (string, bool) {
	apiKey := getAPIKey(r)
	if !utils.Contains(auth.adminAPIKeys, apiKey) {
		log.Printf("401 - Unauthorized admin call for path %s", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return "", false
	}

	userID := getUserID(r)
	if len(userID) == 0 {
		log.Printf("401 - Missing user identity for path %s", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func getAPIKey(r *http.Request) string {
	apiKey := r.Header.Get("ACCESS-API-KEY")
	return apiKey
}

func getUserID(r *http.Request) string {
	userID := r.Header.Get("ACCESS-USER-ID")
	return userID
}
