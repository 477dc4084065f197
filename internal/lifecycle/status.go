// Package lifecycle holds the closed status enums and transition tables for
// listings and viewing requests.
package lifecycle

import "errors"

var (
	// ErrUnknownStatus is returned when a raw status is outside the closed set.
	ErrUnknownStatus = errors.New("lifecycle: unknown status")
	// ErrUnknownDecision is returned when a raw decision is outside the closed set.
	ErrUnknownDecision = errors.New("lifecycle: unknown decision")
)

// ListingStatus is the publication state of a listing.
type ListingStatus string

const (
	ListingDraft    ListingStatus = "DRAFT"
	ListingPending  ListingStatus = "PENDING"
	ListingApproved ListingStatus = "APPROVED"
	ListingRejected ListingStatus = "REJECTED"
)

var listingTransitions = map[ListingStatus][]ListingStatus{
	ListingDraft:    {ListingPending},
	ListingPending:  {ListingApproved, ListingRejected},
	ListingApproved: {ListingDraft},
	ListingRejected: {ListingPending, ListingDraft},
}

// ParseListingStatus validates a raw listing status. Matching is exact;
// callers fold case at the HTTP boundary.
func ParseListingStatus(raw string) (ListingStatus, error) {
	status := ListingStatus(raw)
	if _, ok := listingTransitions[status]; !ok {
		return "", ErrUnknownStatus
	}
	return status, nil
}

// Valid reports whether s is a declared listing status.
func (s ListingStatus) Valid() bool {
	_, ok := listingTransitions[s]
	return ok
}

// CanTransitionTo reports whether the listing state machine has an edge s -> next.
func (s ListingStatus) CanTransitionTo(next ListingStatus) bool {
	for _, candidate := range listingTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Published reports whether listings in this state appear in public results.
func (s ListingStatus) Published() bool {
	return s == ListingApproved
}

// Editable reports whether listing content may be changed in this state.
func (s ListingStatus) Editable() bool {
	return s == ListingDraft || s == ListingRejected
}

func (s ListingStatus) String() string { return string(s) }

// ViewingStatus is the negotiation state of a viewing request.
type ViewingStatus string

const (
	ViewingPending   ViewingStatus = "PENDING"
	ViewingApproved  ViewingStatus = "APPROVED"
	ViewingDeclined  ViewingStatus = "DECLINED"
	ViewingCancelled ViewingStatus = "CANCELLED"
)

var viewingTransitions = map[ViewingStatus][]ViewingStatus{
	ViewingPending:   {ViewingApproved, ViewingDeclined, ViewingCancelled},
	ViewingApproved:  nil,
	ViewingDeclined:  nil,
	ViewingCancelled: nil,
}

// ParseViewingStatus validates a raw viewing status. Matching is exact.
func ParseViewingStatus(raw string) (ViewingStatus, error) {
	status := ViewingStatus(raw)
	if _, ok := viewingTransitions[status]; !ok {
		return "", ErrUnknownStatus
	}
	return status, nil
}

// Valid reports whether s is a declared viewing status.
func (s ViewingStatus) Valid() bool {
	_, ok := viewingTransitions[s]
	return ok
}

// CanTransitionTo reports whether the viewing state machine has an edge s -> next.
func (s ViewingStatus) CanTransitionTo(next ViewingStatus) bool {
	for _, candidate := range viewingTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s ViewingStatus) Terminal() bool {
	return s.Valid() && len(viewingTransitions[s]) == 0
}

func (s ViewingStatus) String() string { return string(s) }

// ListingDecision is an administrator's verdict on a pending listing.
type ListingDecision string

const (
	ListingApprove ListingDecision = "APPROVE"
	ListingReject  ListingDecision = "REJECT"
)

// ParseListingDecision validates a raw listing decision.
func ParseListingDecision(raw string) (ListingDecision, error) {
	switch d := ListingDecision(raw); d {
	case ListingApprove, ListingReject:
		return d, nil
	}
	return "", ErrUnknownDecision
}

// Target returns the status a listing moves to under decision d.
func (d ListingDecision) Target() ListingStatus {
	switch d {
	case ListingApprove:
		return ListingApproved
	case ListingReject:
		return ListingRejected
	}
	return ""
}

// ViewingDecision is a landlord's verdict on a pending viewing request.
type ViewingDecision string

const (
	ViewingApprove ViewingDecision = "APPROVE"
	ViewingDecline ViewingDecision = "DECLINE"
)

// ParseViewingDecision validates a raw viewing decision.
func ParseViewingDecision(raw string) (ViewingDecision, error) {
	switch d := ViewingDecision(raw); d {
	case ViewingApprove, ViewingDecline:
		return d, nil
	}
	return "", ErrUnknownDecision
}

// Target returns the status a viewing request moves to under decision d.
func (d ViewingDecision) Target() ViewingStatus {
	switch d {
	case ViewingApprove:
		return ViewingApproved
	case ViewingDecline:
		return ViewingDeclined
	}
	return ""
}
