package model

import "time"

type Family struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Member is the unit of currency ownership. Members are deactivated, never deleted.
type Member struct {
	ID        int64     `json:"id"`
	FamilyID  int64     `json:"family_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	HasPIN    bool      `json:"has_pin"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Member) IsOwner() bool {
	return m.Role == RoleOwner
}
