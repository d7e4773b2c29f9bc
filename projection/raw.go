package projection

import (
	"time"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

// RawTask is a task record as stored or imported. Identity may arrive as id,
// _id or an Azure Tables RowKey.
type RawTask struct {
	ID          string     `json:"id,omitempty"`
	LegacyID    string     `json:"_id,omitempty"`
	RowKey      string     `json:"RowKey,omitempty"`
	ProjectID   string     `json:"projectId,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	Order       int        `json:"order"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// RawColumn is a column whose tasks may be nested under tasks, items or cards.
type RawColumn struct {
	ID       string    `json:"id,omitempty"`
	LegacyID string    `json:"_id,omitempty"`
	Name     string    `json:"name,omitempty"`
	Tasks    []RawTask `json:"tasks,omitempty"`
	Items    []RawTask `json:"items,omitempty"`
	Cards    []RawTask `json:"cards,omitempty"`
}

// RawBoard is the storage-side board document. Tasks are either nested in
// columns or listed flat at the top level.
type RawBoard struct {
	Name    string          `json:"name"`
	Columns []RawColumn     `json:"columns"`
	Tasks   []RawTask       `json:"tasks,omitempty"`
	Items   []RawTask       `json:"items,omitempty"`
	Cards   []RawTask       `json:"cards,omitempty"`
	Members []domain.Member `json:"members,omitempty"`
}

// DecodeBoard parses a board document in any of the accepted shapes.
func DecodeBoard(data []byte) (RawBoard, error) {
	var raw RawBoard
	if err := sonic.ConfigStd.Unmarshal(data, &raw); err != nil {
		return RawBoard{}, err
	}
	return raw, nil
}

// EncodeBoard is the inverse of DecodeBoard.
func EncodeBoard(raw RawBoard) ([]byte, error) {
	return sonic.ConfigStd.Marshal(raw)
}

// FromTask converts a stored task into its raw form.
func FromTask(t domain.Task) RawTask {
	return RawTask{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Order:       t.Order,
		AssigneeID:  t.AssigneeID,
		DueDate:     t.DueDate,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (t RawTask) identity() string {
	switch {
	case t.ID != "":
		return t.ID
	case t.LegacyID != "":
		return t.LegacyID
	default:
		return t.RowKey
	}
}

func (c RawColumn) nested() []RawTask {
	switch {
	case len(c.Tasks) > 0:
		return c.Tasks
	case len(c.Items) > 0:
		return c.Items
	default:
		return c.Cards
	}
}

func (b RawBoard) flat() []RawTask {
	switch {
	case len(b.Tasks) > 0:
		return b.Tasks
	case len(b.Items) > 0:
		return b.Items
	default:
		return b.Cards
	}
}
