package domain

import "time"

const (
	ResponseStyleAuto     = "auto"
	ResponseStyleConcise  = "concise"
	ResponseStyleDetailed = "detailed"

	SkillUnknown      = "unknown"
	SkillBeginner     = "beginner"
	SkillIntermediate = "intermediate"
	SkillAdvanced     = "advanced"
)

// Preferences are inferred from the messages a subject sends.
type Preferences struct {
	SubjectID        string    `json:"subject_id"`
	ResponseStyle    string    `json:"response_style"`
	SkillLevel       string    `json:"skill_level"`
	KnownLanguages   []string  `json:"known_languages"`
	InteractionCount int       `json:"interaction_count"`
	LastUpdated      time.Time `json:"last_updated"`
}

// NewPreferences returns the starting state for a subject with no history.
func NewPreferences(subjectID string) Preferences {
	return Preferences{
		SubjectID:     subjectID,
		ResponseStyle: ResponseStyleAuto,
		SkillLevel:    SkillUnknown,
	}
}
