package domain

import "time"

// UserProfile is the externally maintained profile document for a subject.
// LearningGoals is set when the stored goals are a list; LearningGoal when
// they are a single scalar value.
type UserProfile struct {
	SubjectID       string
	DisplayName     string
	LearningGoals   []string
	LearningGoal    string
	SkillLevel      string
	Experience      string
	PreferredTopics []string
	CurrentProject  string
}

// EngagementStats summarises how a subject uses the assistant.
// Optional fields are nil when the store has no value.
type EngagementStats struct {
	SubjectID            string
	PreferredTimeOfDay   *string
	AverageSessionLength *float64
	TotalInteractions    int
}

// CourseProgress is one enrollment record. LastAccessed is already normalized.
type CourseProgress struct {
	SubjectID         string
	CourseID          string
	CompletedSections []string
	LastAccessed      time.Time
}

// PlaygroundActivity is the live-activity status of a subject in the code playground.
type PlaygroundActivity struct {
	SubjectID string
	Active    bool
	Language  string
	LastSeen  time.Time
}

// EngagementUpdate is written back after every completed exchange.
type EngagementUpdate struct {
	Intent         Intent
	Language       string
	MessageLength  int
	ResponseLength int
	At             time.Time
}
