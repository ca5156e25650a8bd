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

package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"access/core/model"
)

// Mailer sends transactional email; the smtp adapter implements it
type Mailer interface {
	SendEmail(to string, subject string, body string) error
}

// Adapter implements the Notifications interface. Messages go to a chat
// webhook when one is configured and to email through the mailer.
type Adapter struct {
	webhookURL string
	mailer     Mailer
}

// NewNotificationsAdapter creates a new notifications adapter instance
func NewNotificationsAdapter(webhookURL string, mailer Mailer) *Adapter {
	return &Adapter{webhookURL: webhookURL, mailer: mailer}
}

// AccessRequestCreated tells the approvers a request awaits them
func (na *Adapter) AccessRequestCreated(request model.AccessRequest, group model.Group, approvers []model.User) error {
	kind := "membership of"
	if request.RequestOwnership {
		kind = "ownership of"
	}
	subject := fmt.Sprintf("Access request for %s", group.Name)
	body := fmt.Sprintf("A request for %s group %s awaits your review.\nReason: %s",
		kind, group.Name, request.RequestReason)

	na.postMessage(subject + " - " + body)
	for index := range approvers {
		na.sendMail(approvers[index].Email, subject, body)
	}
	return nil
}

// AccessRequestCompleted tells the requester their request was resolved
func (na *Adapter) AccessRequestCompleted(request model.AccessRequest, group model.Group, requester *model.User) error {
	subject := fmt.Sprintf("Your access request for %s was %s", group.Name, request.Status)
	body := fmt.Sprintf("Your request for group %s was %s.", group.Name, request.Status)
	if request.ResolutionReason != nil && len(*request.ResolutionReason) > 0 {
		body += "\nReason: " + *request.ResolutionReason
	}

	na.postMessage(subject)
	if requester != nil {
		na.sendMail(requester.Email, subject, body)
	}
	return nil
}

// RoleRequestCreated tells the approvers a role association request awaits them
func (na *Adapter) RoleRequestCreated(request model.RoleRequest, role model.Group, group model.Group, approvers []model.User) error {
	subject := fmt.Sprintf("Role request: %s to %s", role.Name, group.Name)
	body := fmt.Sprintf("A request to associate role %s with group %s awaits your review.\nReason: %s",
		role.Name, group.Name, request.RequestReason)

	na.postMessage(subject + " - " + body)
	for index := range approvers {
		na.sendMail(approvers[index].Email, subject, body)
	}
	return nil
}

// RoleRequestCompleted tells the requester their role request was resolved
func (na *Adapter) RoleRequestCompleted(request model.RoleRequest, role model.Group, group model.Group, requester *model.User) error {
	subject := fmt.Sprintf("Your role request for %s was %s", group.Name, request.Status)
	body := fmt.Sprintf("Your request to associate role %s with group %s was %s.", role.Name, group.Name, request.Status)
	if request.ResolutionReason != nil && len(*request.ResolutionReason) > 0 {
		body += "\nReason: " + *request.ResolutionReason
	}

	na.postMessage(subject)
	if requester != nil {
		na.sendMail(requester.Email, subject, body)
	}
	return nil
}

// AccessExpiringUser warns a user their access is about to end
func (na *Adapter) AccessExpiringUser(user model.User, groups []model.Group) error {
	subject := "Your access is expiring soon"
	body := fmt.Sprintf("Your access to the following groups is expiring soon: %s", groupNames(groups))
	na.sendMail(user.Email, subject, body)
	return nil
}

// AccessExpiringOwner warns a group owner about expiring members
func (na *Adapter) AccessExpiringOwner(owner model.User, groups []model.Group) error {
	subject := "Group access is expiring soon"
	body := fmt.Sprintf("Access to groups you own is expiring soon: %s", groupNames(groups))
	na.sendMail(owner.Email, subject, body)
	return nil
}

// AccessExpiringRoleOwner warns a role owner about expiring associations
func (na *Adapter) AccessExpiringRoleOwner(owner model.User, roles []model.Group) error {
	subject := "Role associations are expiring soon"
	body := fmt.Sprintf("Associations of roles you own are expiring soon: %s", groupNames(roles))
	na.sendMail(owner.Email, subject, body)
	return nil
}

func (na *Adapter) postMessage(text string) {
	if len(na.webhookURL) == 0 {
		return
	}

	bodyData := map[string]string{"text": text}
	bodyBytes, err := json.Marshal(bodyData)
	if err != nil {
		log.Printf("error creating webhook message - %s", err)
		return
	}

	resp, err := http.Post(na.webhookURL, "application/json", bytes.NewReader(bodyBytes))
	if err != nil {
		log.Printf("error posting webhook message - %s", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		log.Printf("webhook message error with response code - %d", resp.StatusCode)
	}
}

func (na *Adapter) sendMail(to string, subject string, body string) {
	if na.mailer == nil || len(to) == 0 {
		return
	}
	if err := na.mailer.SendEmail(to, subject, body); err != nil {
		log.Printf("error sending email to %s - %s", to, err)
	}
}

func groupNames(groups []model.Group) string {
	names := make([]string, len(groups))
	for index := range groups {
		names[index] = groups[index].Name
	}
	return strings.Join(names, ", ")
}
