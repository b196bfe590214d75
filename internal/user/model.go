package user

import "time"

// Role is the access level stored on a profile.
type Role string

const (
	RoleStudent    Role = "student"
	RoleLecturer   Role = "lecturer"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleLecturer, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Capability is a single permitted action. Handlers check capabilities,
// never raw role strings, so the role mapping lives in one place.
type Capability string

const (
	CapViewAttendance   Capability = "view_attendance"
	CapBroadcastSession Capability = "broadcast_session"
	CapManageResources  Capability = "manage_resources"
	CapManageUsers      Capability = "manage_users"
)

var roleCapabilities = map[Role][]Capability{
	RoleStudent:    {CapViewAttendance},
	RoleLecturer:   {CapViewAttendance, CapBroadcastSession, CapManageResources},
	RoleAdmin:      {CapManageResources, CapManageUsers},
	RoleSuperAdmin: {CapViewAttendance, CapBroadcastSession, CapManageResources, CapManageUsers},
}

// Has reports whether the role grants the capability.
func (r Role) Has(c Capability) bool {
	for _, granted := range roleCapabilities[r] {
		if granted == c {
			return true
		}
	}
	return false
}

// Profile is the identity record for one user.
type Profile struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	Courses     []string  `json:"courses"`
	CreatedAt   time.Time `json:"created_at"`
}

// ElevationStatus is the lifecycle state of an elevation request.
type ElevationStatus string

const (
	ElevationPending  ElevationStatus = "pending"
	ElevationApproved ElevationStatus = "approved"
	ElevationRejected ElevationStatus = "rejected"
)

// ElevationRequest is an audited request to raise a user's role.
// It replaces any shared-secret promotion path: who asked, for what,
// and who decided are all recorded.
type ElevationRequest struct {
	ID            string          `json:"id"`
	RequesterUID  string          `json:"requester_uid"`
	RequestedRole Role            `json:"requested_role"`
	Reason        string          `json:"reason"`
	Status        ElevationStatus `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	DecidedBy     *string         `json:"decided_by,omitempty"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
}
