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
	"fmt"
	"strings"
	"time"

	"access/core/model"
	"access/driven/storage"
	"access/utils"
)

// IsAccessAdmin says if the user is a member of the owner group of the reserved
// admin app. Access admins bypass the policy gates.
func (app *Application) IsAccessAdmin(context storage.TransactionContext, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}

	adminApp, err := app.storage.FindAppByName(context, model.ReservedAppName)
	if err != nil {
		return false, err
	}
	if adminApp == nil {
		return false, nil
	}

	ownerGroup, err := app.findAppOwnerGroup(context, adminApp.ID)
	if err != nil || ownerGroup == nil {
		return false, err
	}

	now := time.Now()
	grants, err := app.storage.FindGrants(context, model.GrantFilter{
		UserIDs: []string{userID}, GroupIDs: []string{ownerGroup.ID}, ActiveAt: &now})
	if err != nil {
		return false, err
	}
	return len(grants) > 0, nil
}

func (app *Application) findAppOwnerGroup(context storage.TransactionContext, appID string) (*model.Group, error) {
	groups, err := app.storage.FindGroups(context, model.GroupFilter{Types: []string{model.GroupTypeApp}, AppID: &appID})
	if err != nil {
		return nil, err
	}
	for index := range groups {
		if groups[index].IsAppOwner {
			return &groups[index], nil
		}
	}
	return nil, nil
}

// checkSelfAddGate rejects a mutation in which the actor grants access to
// themselves against the group's coalesced self-add constraints
func (app *Application) checkSelfAddGate(context storage.TransactionContext, actorID string,
	group *model.Group, tags []model.Tag, membersToAdd []string, ownersToAdd []string) (bool, string) {
	addsSelfMember := utils.Contains(membersToAdd, actorID)
	addsSelfOwner := utils.Contains(ownersToAdd, actorID)
	if !addsSelfMember && !addsSelfOwner {
		return true, ""
	}

	admin, err := app.IsAccessAdmin(context, actorID)
	if err == nil && admin {
		return true, ""
	}

	if addsSelfMember && coalesceBool(model.ConstraintDisallowSelfAddMembership, tags) {
		return false, fmt.Sprintf("self-add of membership to group %s is not allowed", group.Name)
	}
	if addsSelfOwner && coalesceBool(model.ConstraintDisallowSelfAddOwnership, tags) {
		return false, fmt.Sprintf("self-add of ownership of group %s is not allowed", group.Name)
	}

	if coalesceBool(model.ConstraintOwnerCannotAddSelf, tags) {
		now := time.Now()
		isOwner := true
		ownerGrants, err := app.storage.FindGrants(context, model.GrantFilter{
			UserIDs: []string{actorID}, GroupIDs: []string{group.ID}, IsOwner: &isOwner, ActiveAt: &now})
		if err == nil && len(ownerGrants) > 0 {
			return false, fmt.Sprintf("owners of group %s cannot add themselves", group.Name)
		}
	}

	return true, ""
}

// checkRoleSelfAddGate rejects attaching groups to a role when the attachment
// would transitively grant the acting role member access the group disallows
func (app *Application) checkRoleSelfAddGate(context storage.TransactionContext, actorID string,
	role *model.Group, memberTargets []model.Group, ownerTargets []model.Group) (bool, string) {
	now := time.Now()
	isMember := false
	roleMemberships, err := app.storage.FindGrants(context, model.GrantFilter{
		UserIDs: []string{actorID}, GroupIDs: []string{role.ID}, IsOwner: &isMember, ActiveAt: &now})
	if err != nil || len(roleMemberships) == 0 {
		return true, ""
	}

	admin, err := app.IsAccessAdmin(context, actorID)
	if err == nil && admin {
		return true, ""
	}

	for index := range memberTargets {
		tags, err := app.activeGroupTags(context, memberTargets[index].ID)
		if err != nil {
			continue
		}
		if coalesceBool(model.ConstraintDisallowSelfAddMembership, tags) {
			return false, fmt.Sprintf("attaching group %s would self-grant membership through role %s", memberTargets[index].Name, role.Name)
		}
	}
	for index := range ownerTargets {
		tags, err := app.activeGroupTags(context, ownerTargets[index].ID)
		if err != nil {
			continue
		}
		if coalesceBool(model.ConstraintDisallowSelfAddOwnership, tags) {
			return false, fmt.Sprintf("attaching group %s would self-grant ownership through role %s", ownerTargets[index].Name, role.Name)
		}
	}

	return true, ""
}

// checkReasonGate rejects a mutation without an acceptable justification when
// any governing tag requires one
func (app *Application) checkReasonGate(context storage.TransactionContext, actorID string,
	tags []model.Tag, createdReason string) (bool, string) {
	if !coalesceBool(model.ConstraintRequireReason, tags) {
		return true, ""
	}

	admin, err := app.IsAccessAdmin(context, actorID)
	if err == nil && admin {
		return true, ""
	}

	if utils.IsBlank(createdReason) {
		return false, "a reason is required for this group"
	}

	if app.config != nil {
		if len(app.config.ReasonTemplate) > 0 && strings.TrimSpace(createdReason) == strings.TrimSpace(app.config.ReasonTemplate) {
			return false, "the reason must not repeat the template verbatim"
		}
		for _, required := range app.config.RequiredReasonSubstrings {
			if !strings.Contains(createdReason, required) {
				return false, fmt.Sprintf("the reason must mention %q", required)
			}
		}
	}

	return true, ""
}
