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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"access/core/model"
)

func TestCoalesceTimeLimitPicksMinimumPositive(t *testing.T) {
	tags := []model.Tag{
		{ID: "a", Enabled: true, Constraints: map[string]interface{}{model.ConstraintMemberTimeLimit: 3600}},
		{ID: "b", Enabled: true, Constraints: map[string]interface{}{model.ConstraintMemberTimeLimit: 600}},
		{ID: "c", Enabled: true},
	}

	limit := coalesceTimeLimit(model.ConstraintMemberTimeLimit, tags)
	require.NotNil(t, limit)
	assert.Equal(t, int64(600), *limit)
}

func TestCoalesceTimeLimitIgnoresNonPositive(t *testing.T) {
	tags := []model.Tag{
		{ID: "a", Enabled: true, Constraints: map[string]interface{}{model.ConstraintMemberTimeLimit: 0}},
		{ID: "b", Enabled: true, Constraints: map[string]interface{}{model.ConstraintMemberTimeLimit: -5}},
	}

	assert.Nil(t, coalesceTimeLimit(model.ConstraintMemberTimeLimit, tags))
}

func TestCoalesceTimeLimitReadsJSONNumbers(t *testing.T) {
	// constraints loaded from JSON come back as float64
	tags := []model.Tag{
		{ID: "a", Enabled: true, Constraints: map[string]interface{}{model.ConstraintOwnerTimeLimit: float64(1800)}},
	}

	limit := coalesceTimeLimit(model.ConstraintOwnerTimeLimit, tags)
	require.NotNil(t, limit)
	assert.Equal(t, int64(1800), *limit)
}

func TestCoalesceBoolAnyTagWins(t *testing.T) {
	tags := []model.Tag{
		{ID: "a", Enabled: true},
		{ID: "b", Enabled: true, Constraints: map[string]interface{}{model.ConstraintRequireReason: true}},
	}

	assert.True(t, coalesceBool(model.ConstraintRequireReason, tags))
	assert.False(t, coalesceBool(model.ConstraintDisallowSelfAddMembership, tags))
}

func TestClampEndedAt(t *testing.T) {
	now := time.Now()
	limit := int64(3600)
	maxEnd := now.Add(time.Hour)

	later := now.Add(2 * time.Hour)
	earlier := now.Add(10 * time.Minute)

	cases := []struct {
		desc      string
		requested *time.Time
		limit     *int64
		managed   bool
		expected  *time.Time
	}{
		{desc: "no limit keeps requested", requested: &later, limit: nil, managed: true, expected: &later},
		{desc: "no limit keeps unbounded", requested: nil, limit: nil, managed: true, expected: nil},
		{desc: "limit caps later request", requested: &later, limit: &limit, managed: true, expected: &maxEnd},
		{desc: "limit caps unbounded request", requested: nil, limit: &limit, managed: true, expected: &maxEnd},
		{desc: "limit keeps earlier request", requested: &earlier, limit: &limit, managed: true, expected: &earlier},
		{desc: "limit is advisory for unmanaged", requested: nil, limit: &limit, managed: false, expected: nil},
	}

	for _, tc := range cases {
		got := clampEndedAt(tc.requested, now, tc.limit, tc.managed)
		if tc.expected == nil {
			assert.Nil(t, got, tc.desc)
			continue
		}
		require.NotNil(t, got, tc.desc)
		assert.WithinDuration(t, *tc.expected, *got, time.Second, tc.desc)
	}
}

func TestMinEndedAt(t *testing.T) {
	early := time.Now()
	late := early.Add(time.Hour)

	assert.Nil(t, minEndedAt(nil, nil))
	assert.Equal(t, &early, minEndedAt(&early, nil))
	assert.Equal(t, &early, minEndedAt(nil, &early))
	assert.Equal(t, &early, minEndedAt(&early, &late))
	assert.Equal(t, &early, minEndedAt(&late, &early))
}

func TestCoalescedTagsForRoleUnionsTargetTags(t *testing.T) {
	env := newTestEnv(nil)
	role := env.addGroup("role-1", model.GroupTypeRole, true)
	target := env.addGroup("target-1", model.GroupTypePlain, true)

	env.addTagWithConstraints("tag-role", map[string]interface{}{model.ConstraintRequireReason: true})
	env.addTagWithConstraints("tag-target", map[string]interface{}{model.ConstraintMemberTimeLimit: 600})
	env.attachTag("map-1", "tag-role", role.ID)
	env.attachTag("map-2", "tag-target", target.ID)

	env.storage.roleGroupMaps["rm-1"] = model.RoleGroupMap{ID: "rm-1", RoleGroupID: role.ID,
		GroupID: target.ID, DateCreated: time.Now()}

	tags, err := env.app.coalescedTagsForGroup(nil, &role)
	require.NoError(t, err)
	require.Len(t, tags, 2)

	assert.True(t, coalesceBool(model.ConstraintRequireReason, tags))
	limit := coalesceTimeLimit(model.ConstraintMemberTimeLimit, tags)
	require.NotNil(t, limit)
	assert.Equal(t, int64(600), *limit)
}

func TestCoalescedTagsSkipsDisabledAndEndedMaps(t *testing.T) {
	env := newTestEnv(nil)
	group := env.addGroup("g-1", model.GroupTypePlain, true)

	disabled := env.addTagWithConstraints("tag-off", map[string]interface{}{model.ConstraintRequireReason: true})
	disabled.Enabled = false
	env.storage.tags[disabled.ID] = disabled
	env.attachTag("map-off", disabled.ID, group.ID)

	env.addTagWithConstraints("tag-ended", map[string]interface{}{model.ConstraintRequireReason: true})
	past := time.Now().Add(-time.Minute)
	env.storage.groupTagMaps["map-ended"] = model.GroupTagMap{ID: "map-ended", TagID: "tag-ended",
		GroupID: group.ID, DateCreated: time.Now().Add(-time.Hour), EndedAt: &past}

	tags, err := env.app.coalescedTagsForGroup(nil, &group)
	require.NoError(t, err)
	assert.Empty(t, tags)
}
