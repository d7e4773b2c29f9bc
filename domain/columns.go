package domain

// Column is one status bucket of a project's board layout.
type Column struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var defaultColumns = []Column{
	{ID: "backlog", Name: "Backlog"},
	{ID: "in-progress", Name: "In Progress"},
	{ID: "review", Name: "Review"},
	{ID: "done", Name: "Done"},
}

// DefaultColumns returns the layout assigned to projects created without one.
func DefaultColumns() []Column {
	out := make([]Column, len(defaultColumns))
	copy(out, defaultColumns)
	return out
}

// Registry is the immutable, ordered set of valid statuses of one project.
type Registry struct {
	columns []Column
	byID    map[string]int
	byName  map[string]int
}

// NewRegistry builds a registry from columns. An empty list yields the default layout.
func NewRegistry(columns []Column) Registry {
	if len(columns) == 0 {
		columns = defaultColumns
	}
	r := Registry{
		columns: make([]Column, len(columns)),
		byID:    make(map[string]int, len(columns)),
		byName:  make(map[string]int, len(columns)),
	}
	copy(r.columns, columns)
	for i, c := range r.columns {
		if _, ok := r.byID[c.ID]; !ok {
			r.byID[c.ID] = i
		}
		if _, ok := r.byName[c.Name]; !ok && c.Name != "" {
			r.byName[c.Name] = i
		}
	}
	return r
}

// RegistryFor returns the column registry of a project.
func RegistryFor(p Project) Registry {
	return NewRegistry(p.Columns)
}

// Columns returns the registry columns in board order.
func (r Registry) Columns() []Column {
	out := make([]Column, len(r.columns))
	copy(out, r.columns)
	return out
}

// IsValidStatus reports whether status is the id of a registry column.
func (r Registry) IsValidStatus(status string) bool {
	_, ok := r.byID[status]
	return ok
}

// Canonical resolves a status given as column id or display name to the column id.
func (r Registry) Canonical(status string) (string, bool) {
	if i, ok := r.byID[status]; ok {
		return r.columns[i].ID, true
	}
	if i, ok := r.byName[status]; ok {
		return r.columns[i].ID, true
	}
	return "", false
}

// First returns the leftmost column id.
func (r Registry) First() string {
	if len(r.columns) == 0 {
		return ""
	}
	return r.columns[0].ID
}
