package update

import (
	"errors"
	"time"
)

// Update is an append-only progress note on an issue. Terminal is an
// explicit flag; intent is never inferred from the note's prose.
type Update struct {
	ID        int64     `json:"id"`
	IssueID   int64     `json:"issue_id"`
	AuthorID  string    `json:"staff_id"`
	Text      string    `json:"update_text"`
	Terminal  bool      `json:"terminal"`
	CreatedAt time.Time `json:"created_at"`
}

var ErrNotFound = errors.New("update not found")

type CreateRequest struct {
	IssueID  int64  `json:"issue_id" binding:"required"`
	Text     string `json:"update_text" binding:"required,min=1,max=1000"`
	Terminal bool   `json:"terminal"`
}
