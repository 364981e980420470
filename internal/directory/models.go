package directory

// User is the minimal user record the realtime core needs: enough to
// resolve an authenticated identity and to decorate call notifications.
// The full marketplace profile (skills, rates, listings) lives elsewhere.
type User struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Email  string `json:"email" db:"email"`
	Avatar string `json:"avatar,omitempty" db:"avatar"`

	// Role is one of user, technician, tool_owner, admin.
	Role string `json:"role" db:"role"`
}
