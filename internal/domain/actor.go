package domain

import "fmt"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleManager  Role = "manager"
	RoleDesigner Role = "designer"
	// RoleSystem is the unattended auto-progressor.
	RoleSystem Role = "system"
)

func ParseRole(s string) (Role, error) {
	role := Role(s)
	switch role {
	case RoleCustomer, RoleManager, RoleDesigner, RoleSystem:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

type Actor struct {
	Role Role   `json:"role"`
	ID   string `json:"id"`
}

var SystemActor = Actor{Role: RoleSystem, ID: "auto-progression"}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}
