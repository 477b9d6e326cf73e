package domain

import "time"

// VocabWord is one learned word, linked to the book it came from.
type VocabWord struct {
	ID         string
	Word       string
	Definition string
	BookRef    string
	BookTitle  string
	CreatedBy  string
	CreatedAt  time.Time
}

// GroupKey is the heading a word is listed under.
func (v VocabWord) GroupKey() string {
	if v.BookTitle != "" {
		return v.BookTitle
	}
	return v.BookRef
}
