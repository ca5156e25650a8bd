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

package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"time"

	"access/core/model"
)

const pageLimit = 200

// Adapter talks to an Okta-compatible directory API. All mutations are
// idempotent: "already added" and "already removed" responses read as success.
type Adapter struct {
	baseURL  string
	apiToken string

	client *http.Client
}

// NewIdPAdapter creates a new directory API adapter instance
func NewIdPAdapter(baseURL string, apiToken string) *Adapter {
	return &Adapter{baseURL: baseURL, apiToken: apiToken,
		client: &http.Client{Timeout: 30 * time.Second}}
}

type userProfile struct {
	Email       string  `json:"email"`
	FirstName   string  `json:"firstName"`
	LastName    string  `json:"lastName"`
	DisplayName string  `json:"displayName"`
	ManagerID   *string `json:"managerId"`
}

type userResponse struct {
	ID      string      `json:"id"`
	Status  string      `json:"status"`
	Profile userProfile `json:"profile"`
}

type groupProfile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type groupResponse struct {
	ID      string       `json:"id"`
	Profile groupProfile `json:"profile"`
}

type groupRule struct {
	Status  string `json:"status"`
	Actions struct {
		AssignUserToGroups struct {
			GroupIDs []string `json:"groupIds"`
		} `json:"assignUserToGroups"`
	} `json:"actions"`
}

// ListUsers lists every user in the directory
func (a *Adapter) ListUsers(ctx context.Context) ([]model.IdPUser, error) {
	users := []model.IdPUser{}
	err := a.paged(ctx, "/api/v1/users", func(data []byte) (int, error) {
		var page []userResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return 0, err
		}
		for _, user := range page {
			users = append(users, toIdPUser(user))
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// GetUserSchema reads the user schema for a user type
func (a *Adapter) GetUserSchema(ctx context.Context, userType string) (map[string]interface{}, error) {
	data, err := a.request(ctx, "GET", "/api/v1/meta/schemas/user/"+url.PathEscape(userType), nil)
	if err != nil {
		return nil, err
	}

	var schema map[string]interface{}
	err = json.Unmarshal(data, &schema)
	if err != nil {
		return nil, err
	}
	return schema, nil
}

// ListGroups lists every group in the directory
func (a *Adapter) ListGroups(ctx context.Context) ([]model.IdPGroup, error) {
	groups := []model.IdPGroup{}
	err := a.paged(ctx, "/api/v1/groups", func(data []byte) (int, error) {
		var page []groupResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return 0, err
		}
		for _, group := range page {
			groups = append(groups, toIdPGroup(group))
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// ListGroupUsers lists the users of a group
func (a *Adapter) ListGroupUsers(ctx context.Context, groupID string) ([]model.IdPUser, error) {
	users := []model.IdPUser{}
	err := a.paged(ctx, "/api/v1/groups/"+url.PathEscape(groupID)+"/users", func(data []byte) (int, error) {
		var page []userResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return 0, err
		}
		for _, user := range page {
			users = append(users, toIdPUser(user))
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ListGroupsWithActiveRules lists the ids of groups populated by active
// membership rules
func (a *Adapter) ListGroupsWithActiveRules(ctx context.Context) ([]string, error) {
	groupIDs := []string{}
	seen := map[string]bool{}
	err := a.paged(ctx, "/api/v1/groups/rules", func(data []byte) (int, error) {
		var page []groupRule
		if err := json.Unmarshal(data, &page); err != nil {
			return 0, err
		}
		for _, rule := range page {
			if rule.Status != "ACTIVE" {
				continue
			}
			for _, groupID := range rule.Actions.AssignUserToGroups.GroupIDs {
				if !seen[groupID] {
					seen[groupID] = true
					groupIDs = append(groupIDs, groupID)
				}
			}
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return groupIDs, nil
}

// CreateGroup creates a directory group
func (a *Adapter) CreateGroup(ctx context.Context, name string, description string) (*model.IdPGroup, error) {
	body := map[string]interface{}{"profile": groupProfile{Name: name, Description: description}}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	responseData, err := a.request(ctx, "POST", "/api/v1/groups", data)
	if err != nil {
		return nil, err
	}

	var created groupResponse
	err = json.Unmarshal(responseData, &created)
	if err != nil {
		return nil, err
	}
	group := toIdPGroup(created)
	return &group, nil
}

// UpdateGroup updates a directory group's profile
func (a *Adapter) UpdateGroup(ctx context.Context, groupID string, name string, description string) error {
	body := map[string]interface{}{"profile": groupProfile{Name: name, Description: description}}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	_, err = a.request(ctx, "PUT", "/api/v1/groups/"+url.PathEscape(groupID), data)
	return err
}

// DeleteGroup deletes a directory group. Already gone reads as success.
func (a *Adapter) DeleteGroup(ctx context.Context, groupID string) error {
	_, err := a.request(ctx, "DELETE", "/api/v1/groups/"+url.PathEscape(groupID), nil)
	return err
}

// AddUserToGroup adds a user to a group
func (a *Adapter) AddUserToGroup(ctx context.Context, groupID string, userID string) error {
	_, err := a.request(ctx, "PUT",
		"/api/v1/groups/"+url.PathEscape(groupID)+"/users/"+url.PathEscape(userID), nil)
	return err
}

// RemoveUserFromGroup removes a user from a group
func (a *Adapter) RemoveUserFromGroup(ctx context.Context, groupID string, userID string) error {
	_, err := a.request(ctx, "DELETE",
		"/api/v1/groups/"+url.PathEscape(groupID)+"/users/"+url.PathEscape(userID), nil)
	return err
}

// AddOwnerToGroup records a user as an owner of a group
func (a *Adapter) AddOwnerToGroup(ctx context.Context, groupID string, userID string) error {
	body := map[string]string{"id": userID, "type": "USER"}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	_, err = a.request(ctx, "POST", "/api/v1/groups/"+url.PathEscape(groupID)+"/owners", data)
	return err
}

// RemoveOwnerFromGroup removes a user from a group's owners
func (a *Adapter) RemoveOwnerFromGroup(ctx context.Context, groupID string, userID string) error {
	_, err := a.request(ctx, "DELETE",
		"/api/v1/groups/"+url.PathEscape(groupID)+"/owners/"+url.PathEscape(userID), nil)
	return err
}

// paged follows the after cursor until a short page comes back
func (a *Adapter) paged(ctx context.Context, path string, consume func(data []byte) (int, error)) error {
	after := ""
	for {
		pagePath := fmt.Sprintf("%s?limit=%d", path, pageLimit)
		if after != "" {
			pagePath += "&after=" + url.QueryEscape(after)
		}

		data, err := a.request(ctx, "GET", pagePath, nil)
		if err != nil {
			return err
		}
		count, err := consume(data)
		if err != nil {
			return err
		}
		if count < pageLimit {
			return nil
		}

		// the last id of the page is the cursor
		var ids []struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &ids); err != nil || len(ids) == 0 {
			return nil
		}
		after = ids[len(ids)-1].ID
	}
}

func (a *Adapter) request(ctx context.Context, method string, path string, body []byte) ([]byte, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader([]byte{})
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "SSWS "+a.apiToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		log.Printf("idp: error sending %s %s - %s", method, path, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	// the directory already agrees with the requested state
	if isMutation(method) && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict) {
		return data, nil
	}

	log.Printf("idp: %s %s returned %d", method, path, resp.StatusCode)
	return nil, fmt.Errorf("idp: %s %s returned %d", method, path, resp.StatusCode)
}

func isMutation(method string) bool {
	return method == "PUT" || method == "POST" || method == "DELETE"
}

func toIdPUser(user userResponse) model.IdPUser {
	return model.IdPUser{ID: user.ID, Email: user.Profile.Email, FirstName: user.Profile.FirstName,
		LastName: user.Profile.LastName, DisplayName: user.Profile.DisplayName,
		ManagerID: user.Profile.ManagerID, Status: user.Status}
}

func toIdPGroup(group groupResponse) model.IdPGroup {
	return model.IdPGroup{ID: group.ID, Name: group.Profile.Name, Description: group.Profile.Description}
}
