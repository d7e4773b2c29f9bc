package domain

// RoleAdmin may act on any project regardless of membership.
const RoleAdmin = "admin"

// Identity is the authenticated caller attached to every request.
type Identity struct {
	UserID string
	Role   string
}

// Member is one entry of a project's roster.
type Member struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Project owns its column registry and membership roster. Revision is an
// opaque store token that changes with every committed task insert or move.
type Project struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	CreatedBy string   `json:"createdBy,omitempty"`
	Columns   []Column `json:"columns"`
	Members   []Member `json:"members"`
	Revision  string   `json:"-"`
}

// CanAccess reports whether the identity may read or change the project.
func (p Project) CanAccess(id Identity) bool {
	if id.Role == RoleAdmin {
		return true
	}
	if id.UserID == "" {
		return false
	}
	if p.CreatedBy == id.UserID {
		return true
	}
	for _, m := range p.Members {
		if m.UserID == id.UserID {
			return true
		}
	}
	return false
}

// BoardColumn is a column of the projected board with its ordered tasks.
type BoardColumn struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Tasks []Task `json:"tasks"`
}

// Board is the read-only client view of a project.
type Board struct {
	Name    string        `json:"name"`
	Columns []BoardColumn `json:"columns"`
	Members []Member      `json:"members"`
}
