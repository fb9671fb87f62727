// Package upstream implements the HTTP client for the registry data service
// and the error taxonomy shared by the components built on top of it.
package upstream

import (
	"github.com/eranova-digital/datacore/pkg/entity"
)

// Profile is the non-financial descriptive record for an entity.
type Profile struct {
	ID                 entity.ID `json:"id"`
	Name               string    `json:"name"`
	Address            string    `json:"address,omitempty"`
	RegistrationDate   string    `json:"registration_date,omitempty"`
	RegistrationYear   int       `json:"registration_year"`
	ClassificationCode string    `json:"classification_code,omitempty"`
	ClassificationName string    `json:"classification_name,omitempty"`
	VATRegistered      bool      `json:"vat_registered"`
}

// Statement is a yearly financial-indicator record for an entity.
// Indicators are keyed by internal indicator names (see LabelMap).
type Statement struct {
	EntityID           entity.ID          `json:"entity_id"`
	Year               int                `json:"year"`
	ClassificationCode string             `json:"classification_code,omitempty"`
	ClassificationName string             `json:"classification_name,omitempty"`
	Indicators         map[string]float64 `json:"indicators"`
}

// AllZero reports whether the statement carries no real filing: either no
// indicators at all, or every indicator equal to zero.
func (s *Statement) AllZero() bool {
	for _, v := range s.Indicators {
		if v != 0 {
			return false
		}
	}
	return true
}

// Lookup is a single entry of a batched profile request.
type Lookup struct {
	ID   entity.ID `json:"id"`
	AsOf string    `json:"as_of"`
}

// BatchResult is the upstream response to a batched profile request.
// Found and NotFound partition the requested ids; an id in neither set is a
// response/queue mismatch and is surfaced as ResponseMismatchError by the
// coalescer.
type BatchResult struct {
	Found    []Profile `json:"found"`
	NotFound []string  `json:"not_found"`
}
