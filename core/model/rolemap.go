package model

import "time"

// RoleGroupMap is the association edge between a role group and a target group.
// When is_owner is true the role's members own the target group. Roles are never
// associated with other roles.
type RoleGroupMap struct {
	ID          string `json:"id" bson:"_id"`
	RoleGroupID string `json:"role_group_id" bson:"role_group_id"`
	GroupID     string `json:"group_id" bson:"group_id"`
	IsOwner     bool   `json:"is_owner" bson:"is_owner"`

	CreatedReason  string  `json:"created_reason" bson:"created_reason"`
	CreatedActorID string  `json:"created_actor_id" bson:"created_actor_id"`
	EndedActorID   *string `json:"ended_actor_id" bson:"ended_actor_id"`

	DateCreated time.Time  `json:"date_created" bson:"date_created"`
	EndedAt     *time.Time `json:"ended_at" bson:"ended_at"`
} //@name RoleGroupMap

// IsActive says if the association has not been ended at the given time
func (m *RoleGroupMap) IsActive(at time.Time) bool {
	return m.EndedAt == nil || m.EndedAt.After(at)
}

// RoleGroupMapFilter filters role association lookups
type RoleGroupMapFilter struct {
	IDs          []string
	RoleGroupIDs []string
	GroupIDs     []string
	IsOwner      *bool
	ActiveAt     *time.Time
	EndingBefore *time.Time
}
