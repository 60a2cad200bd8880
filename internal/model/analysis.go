package model

import "github.com/rotisserie/eris"

// AnalysisStatus is the classifier's verdict on an item.
type AnalysisStatus string

const (
	StatusSuitable   AnalysisStatus = "Suitable"
	StatusUnsuitable AnalysisStatus = "Unsuitable"
)

// AnalysisResult is attached 1:1 to a ContentItem once the analyze stage
// succeeds for it. Exactly one of (Category+StrategicAngle) or Reason is
// populated, matching Status.
type AnalysisResult struct {
	Status         AnalysisStatus `json:"status"`
	Category       string         `json:"category,omitempty"`
	StrategicAngle string         `json:"strategic_angle,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}

// Validate enforces the suitable/unsuitable field invariant. categories is
// the configured closed set; an empty set skips category membership checks.
func (a AnalysisResult) Validate(categories []string) error {
	switch a.Status {
	case StatusSuitable:
		if a.Category == "" || a.StrategicAngle == "" {
			return eris.New("suitable result requires category and strategic_angle")
		}
		if a.Reason != "" {
			return eris.New("suitable result must not carry a reason")
		}
		if len(categories) > 0 && !contains(categories, a.Category) {
			return eris.Errorf("category %q not in configured taxonomy", a.Category)
		}
	case StatusUnsuitable:
		if a.Reason == "" {
			return eris.New("unsuitable result requires a reason")
		}
		if a.Category != "" || a.StrategicAngle != "" {
			return eris.New("unsuitable result must not carry category or strategic_angle")
		}
	default:
		return eris.Errorf("unknown analysis status %q", string(a.Status))
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
