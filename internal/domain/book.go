package domain

import (
	"fmt"
	"time"
)

// BookStatus is the reading state of a book on the shelf.
type BookStatus string

const (
	StatusReading      BookStatus = "Reading"
	StatusFinished     BookStatus = "Finished"
	StatusWantToRead   BookStatus = "Want to Read"
	StatusDidNotFinish BookStatus = "Did Not Finish"
)

// Statuses lists every status in display order.
var Statuses = []BookStatus{StatusReading, StatusFinished, StatusWantToRead, StatusDidNotFinish}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (BookStatus, error) {
	for _, s := range Statuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// BookMeta holds the objective facts about a book.
type BookMeta struct {
	ID           string
	Title        string
	Author       string
	Status       BookStatus
	DateStarted  *time.Time
	DateFinished *time.Time
	Rating       float64
	TotalPages   int
	PagesRead    int
	CoverURL     string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Reflection holds the reader's subjective fields.
type Reflection struct {
	Thoughts  string
	DNFReason string
	AISummary string
	Themes    []string
}

// Book is the full shelf entry.
type Book struct {
	BookMeta
	Reflection
}

// Progress is the share of pages read, in percent. Unknown length yields 0.
func (b Book) Progress() float64 {
	if b.TotalPages <= 0 {
		return 0
	}
	return float64(b.PagesRead) / float64(b.TotalPages) * 100
}

// ShelfStats are the dashboard counters.
type ShelfStats struct {
	Total        int64
	Reading      int64
	Finished     int64
	WantToRead   int64
	DidNotFinish int64
	Words        int64
}
