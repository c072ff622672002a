// Package request owns the lifecycle of a support request: creation,
// delivery bookkeeping, answering, reclassification and timeout.
package request

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRequestNotFound is returned for unknown or expired request ids.
	ErrRequestNotFound = errors.New("request not found")
	// ErrAlreadyAnswered is returned when the request reached its terminal state.
	ErrAlreadyAnswered = errors.New("request already answered")
	// ErrInvalidTransition is returned when the current status forbids the operation.
	ErrInvalidTransition = errors.New("invalid request transition")
	// ErrInvalidCategory is returned for categories outside the closed set.
	ErrInvalidCategory = errors.New("invalid category")
)

// Category classifies a question.
type Category string

const (
	CategoryHomework  Category = "homework"
	CategoryApp       Category = "app"
	CategoryTechnical Category = "technical"
	CategoryOther     Category = "other"
)

var categories = []Category{CategoryHomework, CategoryApp, CategoryTechnical, CategoryOther}

var categoryLabels = map[Category]string{
	CategoryHomework:  "Homework",
	CategoryApp:       "Using the app",
	CategoryTechnical: "Technical problem",
	CategoryOther:     "Other",
}

// Categories lists every category in menu order.
func Categories() []Category {
	return append([]Category(nil), categories...)
}

// ParseCategory validates s against the closed category set.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
	return c, nil
}

// Valid reports whether c belongs to the closed set.
func (c Category) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// Label is the human readable category name.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// Status is the lifecycle position of a request.
type Status string

const (
	StatusNew      Status = "new"
	StatusWaiting  Status = "waiting"
	StatusAnswered Status = "answered"
	StatusTimeout  Status = "timeout"
)

// Answer is the admin's reply. It exists iff the request is answered.
type Answer struct {
	Text       string    `cbor:"text"`
	AnsweredBy string    `cbor:"answered_by"`
	AnsweredAt time.Time `cbor:"answered_at"`
}

// Request is one submitted question.
type Request struct {
	ID                string    `cbor:"id"`
	SubmitterID       int64     `cbor:"submitter_id"`
	SubmitterLabel    string    `cbor:"submitter_label"`
	SubmitterUsername string    `cbor:"submitter_username,omitempty"`
	Category          Category  `cbor:"category"`
	Text              string    `cbor:"text"`
	Status            Status    `cbor:"status"`
	CreatedAt         time.Time `cbor:"created_at"`
	LastActivityAt    time.Time `cbor:"last_activity_at"`
	DeliveryAttempts  int       `cbor:"delivery_attempts"`
	Answer            *Answer   `cbor:"answer,omitempty"`
}

// Open reports whether the request still accepts an answer.
func (r Request) Open() bool {
	return r.Status == StatusWaiting || r.Status == StatusTimeout
}

// NewRequest carries the submitter-provided fields for Create.
type NewRequest struct {
	SubmitterID int64
	Label       string
	Username    string
	Category    Category
	Text        string
}

// Stats summarises the live requests.
type Stats struct {
	Total      int
	ByStatus   map[Status]int
	Submitters int
}

// Active counts requests not yet answered.
func (s Stats) Active() int {
	return s.ByStatus[StatusNew] + s.ByStatus[StatusWaiting] + s.ByStatus[StatusTimeout]
}
