package models

import "time"

// Project is a recording target owned by a tenant. A project is live until it
// is soft deleted; deletion keeps the row so historical sessions stay resolvable.
type Project struct {
	ProjectID           int64         `json:"projectId"`
	TenantID            string        `json:"tenantId"`
	Name                string        `json:"name"`
	ProjectKey          string        `json:"projectKey"`
	Platform            string        `json:"platform"`
	Active              bool          `json:"active"`
	SampleRate          int           `json:"sampleRate"`
	ConditionalCapture  bool          `json:"conditionalCapture"`
	SaveRequestPayloads bool          `json:"saveRequestPayloads"`
	Gdpr                *GdprSettings `json:"gdpr,omitempty"`
	ConditionsCount     int           `json:"conditionsCount"`
	CreatedAt           time.Time     `json:"createdAt"`

	// Recorded and FirstRecordedSessionAt are only populated by list calls that
	// request the recorded projection. Timestamps are epoch milliseconds.
	Recorded               *bool  `json:"recorded,omitempty"`
	FirstRecordedSessionAt *int64 `json:"firstRecordedSessionAt,omitempty"`

	// LastRecordedSessionAt is only populated by single-project reads that
	// request the last-session projection. Epoch milliseconds.
	LastRecordedSessionAt *int64 `json:"lastRecordedSessionAt,omitempty"`
}

// NewProject carries the caller-supplied fields of a project creation. The
// remaining columns (key, active flag, defaults) are assigned by the store.
type NewProject struct {
	Name                string `json:"name" validate:"required,max=200"`
	Platform            string `json:"platform" validate:"omitempty,oneof=web ios android"`
	SaveRequestPayloads bool   `json:"saveRequestPayloads"`
}

// ProjectUpdate is the whitelist of fields edit is allowed to touch. Platform
// is set at creation and never updated here; nil fields are left unchanged.
type ProjectUpdate struct {
	Name                *string `json:"name" validate:"omitempty,min=1,max=200"`
	SaveRequestPayloads *bool   `json:"saveRequestPayloads"`
}

// IsEmpty reports whether the update would change nothing.
func (u ProjectUpdate) IsEmpty() bool {
	return u.Name == nil && u.SaveRequestPayloads == nil
}

// GdprSettings is the per-project GDPR document. Updates are shallow merges at
// the storage layer, so every field is optional and omitted when absent.
type GdprSettings struct {
	MaskEmails       *bool   `json:"maskEmails,omitempty"`
	MaskNumbers      *bool   `json:"maskNumbers,omitempty"`
	DefaultInputMode *string `json:"defaultInputMode,omitempty"`
	SampleRate       *int    `json:"sampleRate,omitempty"`

	// ProjectID is stamped onto the document when it is read back out; it is
	// never part of a stored patch.
	ProjectID int64 `json:"projectId,omitempty"`
}

// CaptureStatus reports the effective sampling configuration of a project.
// CaptureAll is derived: a sample rate of 100 means every session is kept.
type CaptureStatus struct {
	Rate       int  `json:"rate" validate:"min=0,max=100"`
	CaptureAll bool `json:"captureAll"`
}
