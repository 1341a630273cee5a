// Package preferences infers and stores per-subject chat preferences.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codetapasya-backend/internal/domain"
)

type languageFamily struct {
	name     string
	keywords []string
}

// Matched by substring, in this order.
var languageFamilies = []languageFamily{
	{"python", []string{"python", "py", "django", "flask", "pandas"}},
	{"javascript", []string{"javascript", "js", "node", "react", "vue", "angular"}},
	{"java", []string{"java", "spring", "maven"}},
	{"cpp", []string{"c++", "cpp", "c plus"}},
	{"html", []string{"html", "css", "bootstrap"}},
	{"sql", []string{"sql", "database", "mysql", "postgresql"}},
}

var (
	beginnerIndicators = []string{"learn", "start", "begin", "new to", "tutorial", "basic"}
	advancedIndicators = []string{"optimize", "performance", "architecture", "design pattern", "scalability"}
	conciseIndicators  = []string{"brief", "short", "quick", "summary"}
	detailedIndicators = []string{"detail", "explain", "step by step", "thorough"}
)

// Store persists preferences by subject. Update runs fn on the current value
// (or the starting value for an unknown subject) and saves the result;
// concurrent updates for one subject never interleave.
type Store interface {
	Update(ctx context.Context, subjectID string, fn func(*domain.Preferences)) (domain.Preferences, error)
	Get(ctx context.Context, subjectID string) (domain.Preferences, error)
}

// Tracker folds every incoming message into the subject's preferences.
type Tracker struct {
	store Store
	now   func() time.Time
}

func NewTracker(store Store) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("preferences: store must not be nil")
	}
	return &Tracker{store: store, now: time.Now}, nil
}

func (t *Tracker) Observe(ctx context.Context, subjectID, message string) (domain.Preferences, error) {
	if strings.TrimSpace(subjectID) == "" {
		return domain.Preferences{}, errors.New("preferences: subject id is required")
	}
	now := t.now().UTC()
	prefs, err := t.store.Update(ctx, subjectID, func(p *domain.Preferences) {
		Apply(p, message, now)
	})
	if err != nil {
		return domain.Preferences{}, fmt.Errorf("preferences: observe: %w", err)
	}
	return prefs, nil
}

// Apply updates p with what message reveals about the subject.
func Apply(p *domain.Preferences, message string, now time.Time) {
	p.InteractionCount++
	p.LastUpdated = now
	lower := strings.ToLower(message)

	for _, fam := range languageFamilies {
		if containsAny(lower, fam.keywords) && !contains(p.KnownLanguages, fam.name) {
			p.KnownLanguages = append(p.KnownLanguages, fam.name)
		}
	}

	switch {
	case containsAny(lower, beginnerIndicators):
		p.SkillLevel = domain.SkillBeginner
	case containsAny(lower, advancedIndicators):
		p.SkillLevel = domain.SkillAdvanced
	case p.SkillLevel == "" || p.SkillLevel == domain.SkillUnknown:
		p.SkillLevel = domain.SkillIntermediate
	}

	switch {
	case containsAny(lower, conciseIndicators):
		p.ResponseStyle = domain.ResponseStyleConcise
	case containsAny(lower, detailedIndicators):
		p.ResponseStyle = domain.ResponseStyleDetailed
	case p.ResponseStyle == "":
		p.ResponseStyle = domain.ResponseStyleAuto
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
