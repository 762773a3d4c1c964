package models

import "fmt"

// FilterKind discriminates the capture filter union. Each kind matches one
// session attribute; the operator/values semantics are shared across kinds
// except where noted.
type FilterKind string

const (
	FilterKindURL             FilterKind = "url"
	FilterKindUserCountry     FilterKind = "userCountry"
	FilterKindUserID          FilterKind = "userId"
	FilterKindReferrer        FilterKind = "referrer"
	FilterKindUTMSource       FilterKind = "utmSource"
	FilterKindUTMMedium       FilterKind = "utmMedium"
	FilterKindUTMCampaign     FilterKind = "utmCampaign"
	FilterKindSessionDuration FilterKind = "sessionDuration"
)

// FilterOperator is the comparison applied between the session attribute and
// the filter values.
type FilterOperator string

const (
	OperatorIs          FilterOperator = "is"
	OperatorIsNot       FilterOperator = "isNot"
	OperatorContains    FilterOperator = "contains"
	OperatorStartsWith  FilterOperator = "startsWith"
	OperatorEndsWith    FilterOperator = "endsWith"
	OperatorGreaterThan FilterOperator = "greaterThan"
	OperatorLessThan    FilterOperator = "lessThan"
)

var stringOperators = map[FilterOperator]bool{
	OperatorIs:         true,
	OperatorIsNot:      true,
	OperatorContains:   true,
	OperatorStartsWith: true,
	OperatorEndsWith:   true,
}

var numericOperators = map[FilterOperator]bool{
	OperatorIs:          true,
	OperatorGreaterThan: true,
	OperatorLessThan:    true,
}

// CaptureFilter is one predicate of a capture condition. It is serialized to
// JSON only at the storage and transport boundaries.
type CaptureFilter struct {
	Kind     FilterKind     `json:"kind"`
	Operator FilterOperator `json:"operator"`
	Values   []string       `json:"values"`
}

// Validate checks that the operator is applicable to the filter kind and that
// at least one comparison value is present.
func (f CaptureFilter) Validate() error {
	if len(f.Values) == 0 {
		return fmt.Errorf("filter %q requires at least one value", f.Kind)
	}

	switch f.Kind {
	case FilterKindSessionDuration:
		if !numericOperators[f.Operator] {
			return fmt.Errorf("operator %q is not valid for filter %q", f.Operator, f.Kind)
		}
	case FilterKindURL, FilterKindUserCountry, FilterKindUserID, FilterKindReferrer,
		FilterKindUTMSource, FilterKindUTMMedium, FilterKindUTMCampaign:
		if !stringOperators[f.Operator] {
			return fmt.Errorf("operator %q is not valid for filter %q", f.Operator, f.Kind)
		}
	default:
		return fmt.Errorf("unknown filter kind %q", f.Kind)
	}

	return nil
}

// ProjectCondition is a named capture rule owned by a project. ConditionID is
// zero until the row has been persisted.
type ProjectCondition struct {
	ConditionID int64           `json:"conditionId,omitempty"`
	ProjectID   int64           `json:"projectId,omitempty"`
	Name        string          `json:"name"`
	CaptureRate int             `json:"captureRate"`
	Filters     []CaptureFilter `json:"filters"`
}

// CaptureConditions is the full conditional-capture configuration of a
// project: the base sample rate, whether conditions are consulted at all, and
// the ordered condition set.
type CaptureConditions struct {
	Rate               int                `json:"rate" validate:"min=0,max=100"`
	ConditionalCapture bool               `json:"conditionalCapture"`
	Conditions         []ProjectCondition `json:"conditions"`
}
