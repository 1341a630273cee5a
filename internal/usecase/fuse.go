package usecase

import (
	"fmt"
	"strings"

	"codetapasya-backend/internal/domain"
)

const (
	historyScanWindow     = 10
	maxRecentTopics       = 5
	longSessionMinutes    = 30
	extensiveInteractions = 50
	familiarInteractions  = 10
)

var recentTopicVocabulary = []string{
	"python", "javascript", "react", "node", "api", "database",
	"css", "html", "firebase", "aws", "docker",
}

type conversationPattern struct {
	name     string
	triggers []string
	hint     string
}

// Evaluated in order; a turn counts toward the first pattern it triggers.
var conversationPatterns = []conversationPattern{
	{name: "help-seeking", triggers: []string{"how to", "how do", "can you"}, hint: "Prefers step-by-step guidance"},
	{name: "learning-focused", triggers: []string{"what is", "explain", "define"}, hint: "Enjoys detailed explanations and theory"},
	{name: "debugging", triggers: []string{"error", "bug", "problem", "issue"}, hint: "Often needs debugging assistance"},
}

// Fuse derives the ordered personalization hints for one request. Any input
// may be nil or empty. history must be ordered oldest first; courses must
// already carry normalized LastAccessed values.
func Fuse(profile *domain.UserProfile, history []domain.ChatRecord, courses []domain.CourseProgress, engagement *domain.EngagementStats) []string {
	var hints []string
	hints = append(hints, profileHints(profile)...)
	hints = append(hints, courseHints(courses)...)
	hints = append(hints, historyHints(history)...)
	hints = append(hints, engagementHints(engagement)...)
	return hints
}

func profileHints(p *domain.UserProfile) []string {
	if p == nil {
		return nil
	}
	var hints []string
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		hints = append(hints, "User's name is "+name)
	}
	switch {
	case len(p.LearningGoals) > 0:
		hints = append(hints, "Learning goals: "+strings.Join(p.LearningGoals, ", "))
	case strings.TrimSpace(p.LearningGoal) != "":
		hints = append(hints, "Learning goal: "+strings.TrimSpace(p.LearningGoal))
	}
	skill := strings.TrimSpace(p.SkillLevel)
	if skill == "" {
		skill = strings.TrimSpace(p.Experience)
	}
	if skill != "" {
		hints = append(hints, "Skill level: "+skill)
	}
	if len(p.PreferredTopics) > 0 {
		hints = append(hints, "Interested in: "+strings.Join(p.PreferredTopics, ", "))
	}
	if project := strings.TrimSpace(p.CurrentProject); project != "" {
		hints = append(hints, "Working on: "+project)
	}
	return hints
}

func courseHints(courses []domain.CourseProgress) []string {
	if len(courses) == 0 {
		return nil
	}
	var hints []string
	var active []string
	for _, c := range courses {
		if c.CourseID != "" {
			active = append(active, c.CourseID)
		}
	}
	if len(active) > 0 {
		hints = append(hints, "Currently enrolled in: "+strings.Join(active, ", "))
	}

	recent := courses[0]
	for _, c := range courses[1:] {
		if c.LastAccessed.After(recent.LastAccessed) {
			recent = c
		}
	}
	if recent.CourseID != "" && len(recent.CompletedSections) > 0 {
		hints = append(hints, fmt.Sprintf("Making progress in %s (%d sections completed)", recent.CourseID, len(recent.CompletedSections)))
	}
	return hints
}

func historyHints(history []domain.ChatRecord) []string {
	if len(history) == 0 {
		return nil
	}
	window := history
	if len(window) > historyScanWindow {
		window = window[len(window)-historyScanWindow:]
	}

	var topics []string
	seen := make(map[string]bool)
	counts := make(map[string]int)
	var encountered []conversationPattern
	for _, rec := range window {
		content := strings.ToLower(rec.Content)
		for _, topic := range recentTopicVocabulary {
			if !seen[topic] && strings.Contains(content, topic) {
				seen[topic] = true
				topics = append(topics, topic)
			}
		}
		for _, p := range conversationPatterns {
			if containsAny(content, p.triggers) {
				if counts[p.name] == 0 {
					encountered = append(encountered, p)
				}
				counts[p.name]++
				break
			}
		}
	}

	var hints []string
	if len(topics) > maxRecentTopics {
		topics = topics[:maxRecentTopics]
	}
	if len(topics) > 0 {
		hints = append(hints, "Recently discussed: "+strings.Join(topics, ", "))
	}
	if len(encountered) > 0 {
		best := encountered[0]
		for _, p := range encountered[1:] {
			if counts[p.name] > counts[best.name] {
				best = p
			}
		}
		hints = append(hints, best.hint)
	}
	return hints
}

func engagementHints(e *domain.EngagementStats) []string {
	if e == nil {
		return nil
	}
	var hints []string
	if e.PreferredTimeOfDay != nil && strings.TrimSpace(*e.PreferredTimeOfDay) != "" {
		hints = append(hints, "Most active during: "+strings.TrimSpace(*e.PreferredTimeOfDay))
	}
	if e.AverageSessionLength != nil {
		if *e.AverageSessionLength > longSessionMinutes {
			hints = append(hints, "Prefers detailed, comprehensive explanations")
		} else {
			hints = append(hints, "Prefers quick, concise answers")
		}
	}
	switch {
	case e.TotalInteractions > extensiveInteractions:
		hints = append(hints, "Experienced user with extensive chat history")
	case e.TotalInteractions > familiarInteractions:
		hints = append(hints, "Regular user building familiarity")
	default:
		hints = append(hints, "New user getting started")
	}
	return hints
}
