package models

import (
	"fmt"
	"time"
)

// MaxDescriptionLength bounds project descriptions.
const MaxDescriptionLength = 300

// Permission is a project-scoped capability carried by a group.
type Permission string

const (
	PermReadProject   Permission = "read_project"
	PermChangeProject Permission = "change_project"
	PermDeleteProject Permission = "delete_project"
)

// Group is a named collection of member accounts plus a set of permission
// grants. Every project owns two: the admins group and the users group.
type Group struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

// HasPermission reports whether the group carries the given grant.
func (g *Group) HasPermission(p Permission) bool {
	for _, perm := range g.Permissions {
		if perm == p {
			return true
		}
	}
	return false
}

// AdminGroupName returns the conventional admins group name for a project.
func AdminGroupName(projectName string) string {
	return fmt.Sprintf("%s | admins", projectName)
}

// UserGroupName returns the conventional users group name for a project.
func UserGroupName(projectName string) string {
	return fmt.Sprintf("%s | users", projectName)
}

// Project represents a build project fronted by the access-control layer.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	AdminGroup  int64     `json:"admin_group_id"`
	UserGroup   int64     `json:"user_group_id"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role is the resolved access level of a principal on a project.
type Role int

const (
	// RoleNone grants nothing.
	RoleNone Role = iota
	// RoleMember grants read access via the users group.
	RoleMember
	// RoleAdmin grants read and update access via the admins group.
	RoleAdmin
	// RoleOwner grants full access, independent of group state.
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	case RoleMember:
		return "member"
	default:
		return "none"
	}
}
