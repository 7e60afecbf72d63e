package issue

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
)

// CanTransitionTo encodes the forward-only lifecycle. Same-state and
// backward moves are both rejected; an issue is never implicitly reopened.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusResolved
	}
	return false
}

type Category string

const (
	CategoryRoads       Category = "roads"
	CategoryWaste       Category = "waste"
	CategoryWater       Category = "water"
	CategoryStreetlight Category = "streetlight"
	CategoryOther       Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryRoads, CategoryWaste, CategoryWater, CategoryStreetlight, CategoryOther:
		return true
	}
	return false
}

type Issue struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Status      Status    `json:"status"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	CitizenID   string    `json:"citizen_id"`
	Voters      []string  `json:"voters"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Upvotes is derived from the voter set. There is deliberately no stored
// counter that could drift from it.
func (i Issue) Upvotes() int {
	return len(i.Voters)
}

func (i Issue) HasVoted(userID string) bool {
	for _, v := range i.Voters {
		if v == userID {
			return true
		}
	}
	return false
}

var ErrNotFound = errors.New("issue not found")

type CreateRequest struct {
	Title       string   `json:"title" binding:"required,min=1,max=200"`
	Description string   `json:"description" binding:"required,min=1,max=2000"`
	Category    Category `json:"category" binding:"required,oneof=roads waste water streetlight other"`
	Latitude    *float64 `json:"latitude,omitempty" binding:"omitempty,gte=-90,lte=90"`
	Longitude   *float64 `json:"longitude,omitempty" binding:"omitempty,gte=-180,lte=180"`
	ImageURL    string   `json:"image_url,omitempty" binding:"omitempty,max=500"`
}

// with pointers if optional, it will be nil
type ListFilter struct {
	Status   *Status
	Category *Category
	Mine     bool
	Query    *string
	Page     int
	PerPage  int
}

type Pagination struct {
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

type ListResult struct {
	Issues     []Issue    `json:"issues"`
	Pagination Pagination `json:"pagination"`
}
