package shared

import "time"

// Actor is the user performing an operation. It is always passed explicitly.
type Actor struct {
	ID        int64
	Superuser bool
}

// AuditFields is the metadata every persisted record carries.
// OriginalRecorder is written once on insert and never updated.
type AuditFields struct {
	CreatedBy        int64
	UpdatedBy        int64
	OriginalRecorder int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewAuditFields stamps a freshly created record.
func NewAuditFields(actorID int64, at time.Time) AuditFields {
	return AuditFields{
		CreatedBy:        actorID,
		UpdatedBy:        actorID,
		OriginalRecorder: actorID,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

// Touch records a later modification without reassigning the original recorder.
func (a AuditFields) Touch(actorID int64, at time.Time) AuditFields {
	a.UpdatedBy = actorID
	a.UpdatedAt = at
	return a
}
