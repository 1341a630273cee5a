package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"codetapasya-backend/internal/domain"
	"codetapasya-backend/internal/timeutil"
)

const (
	usersCollection      = "users"
	chatsCollection      = "userChats"
	engagementCollection = "userEngagement"
	progressCollection   = "userProgress"
	playgroundCollection = "playgroundActiveUsers"
)

// Store reads and writes the per-user documents kept in Firestore.
// It serves the profile, chat log, course, engagement and playground sources.
type Store struct {
	client *gcfirestore.Client
	now    func() time.Time
}

// New opens a Firestore client for projectID. credentialsPath is optional;
// without it application default credentials are used.
func New(ctx context.Context, projectID, credentialsPath string) (*Store, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	var opts []option.ClientOption
	if p := strings.TrimSpace(credentialsPath); p != "" {
		opts = append(opts, option.WithCredentialsFile(p))
	}
	client, err := gcfirestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: new client: %w", err)
	}
	return NewWithClient(client), nil
}

func NewWithClient(client *gcfirestore.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) GetProfile(ctx context.Context, subjectID string) (*domain.UserProfile, error) {
	data, err := s.getDoc(ctx, usersCollection, subjectID)
	if err != nil || data == nil {
		return nil, err
	}
	return profileFromDoc(subjectID, data), nil
}

// RecentChats returns the latest limit chat records for subjectID, oldest first.
// Records are sorted client side so no composite index is needed.
func (s *Store) RecentChats(ctx context.Context, subjectID string, limit int) ([]domain.ChatRecord, error) {
	snaps, err := s.client.Collection(chatsCollection).Where("userId", "==", subjectID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore: query %s: %w", chatsCollection, err)
	}
	now := s.now()
	records := make([]domain.ChatRecord, 0, len(snaps))
	for _, snap := range snaps {
		records = append(records, chatFromDoc(snap.Data(), now))
	}
	return latestChats(records, limit), nil
}

func (s *Store) SaveChat(ctx context.Context, subjectID string, rec domain.ChatRecord, metadata map[string]string) error {
	if _, _, err := s.client.Collection(chatsCollection).Add(ctx, chatDoc(subjectID, rec, metadata)); err != nil {
		return fmt.Errorf("firestore: add %s: %w", chatsCollection, err)
	}
	return nil
}

// ListCourseProgress reads the progress documents whose id starts with
// "<subjectID>_".
func (s *Store) ListCourseProgress(ctx context.Context, subjectID string) ([]domain.CourseProgress, error) {
	prefix := subjectID + "_"
	snaps, err := s.client.Collection(progressCollection).
		OrderBy(gcfirestore.DocumentID, gcfirestore.Asc).
		StartAt(prefix).
		EndBefore(prefix + "\uf8ff").
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore: query %s: %w", progressCollection, err)
	}
	now := s.now()
	out := make([]domain.CourseProgress, 0, len(snaps))
	for _, snap := range snaps {
		if !strings.HasPrefix(snap.Ref.ID, prefix) {
			continue
		}
		out = append(out, courseFromDoc(subjectID, snap.Data(), now))
	}
	return out, nil
}

func (s *Store) GetEngagement(ctx context.Context, subjectID string) (*domain.EngagementStats, error) {
	data, err := s.getDoc(ctx, engagementCollection, subjectID)
	if err != nil || data == nil {
		return nil, err
	}
	return engagementFromDoc(subjectID, data), nil
}

// RecordInteraction merges the latest exchange into the engagement document
// and increments its interaction counter.
func (s *Store) RecordInteraction(ctx context.Context, subjectID string, update domain.EngagementUpdate) error {
	ref := s.client.Collection(engagementCollection).Doc(subjectID)
	if _, err := ref.Set(ctx, interactionDoc(update), gcfirestore.MergeAll); err != nil {
		return fmt.Errorf("firestore: update %s: %w", engagementCollection, err)
	}
	return nil
}

func (s *Store) GetPlaygroundActivity(ctx context.Context, subjectID string) (*domain.PlaygroundActivity, error) {
	data, err := s.getDoc(ctx, playgroundCollection, subjectID)
	if err != nil || data == nil {
		return nil, err
	}
	return playgroundFromDoc(subjectID, data, s.now()), nil
}

// getDoc returns nil data without error when the document does not exist.
func (s *Store) getDoc(ctx context.Context, collection, id string) (map[string]any, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("firestore: document id is required")
	}
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("firestore: get %s/%s: %w", collection, id, err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	return snap.Data(), nil
}

// ----- document mapping -----

func profileFromDoc(subjectID string, data map[string]any) *domain.UserProfile {
	p := &domain.UserProfile{
		SubjectID:      subjectID,
		DisplayName:    stringField(data, "name"),
		SkillLevel:     stringField(data, "skillLevel"),
		Experience:     stringField(data, "experience"),
		CurrentProject: stringField(data, "currentProject"),
	}
	if goals, ok := data["learningGoals"]; ok {
		if list, isList := stringList(goals); isList {
			p.LearningGoals = list
		} else if goals != nil {
			p.LearningGoal = fmt.Sprint(goals)
		}
	}
	if topics, ok := stringList(data["preferredLanguages"]); ok {
		p.PreferredTopics = topics
	}
	return p
}

func chatFromDoc(data map[string]any, now time.Time) domain.ChatRecord {
	role := stringField(data, "role")
	if role == "" {
		role = string(domain.RoleUser)
	}
	content := stringField(data, "message")
	if _, ok := data["message"]; !ok {
		content = stringField(data, "content")
	}
	return domain.ChatRecord{
		Role:      domain.Role(role),
		Content:   content,
		Timestamp: timeutil.Normalize(data["timestamp"], now),
	}
}

// latestChats keeps the newest limit records and returns them oldest first.
func latestChats(records []domain.ChatRecord, limit int) []domain.ChatRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records
}

func chatDoc(subjectID string, rec domain.ChatRecord, metadata map[string]string) map[string]any {
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	return map[string]any{
		"userId":    subjectID,
		"role":      string(rec.Role),
		"message":   rec.Content,
		"timestamp": rec.Timestamp.UTC(),
		"metadata":  meta,
	}
}

func courseFromDoc(subjectID string, data map[string]any, now time.Time) domain.CourseProgress {
	sections, _ := stringList(data["completedSections"])
	return domain.CourseProgress{
		SubjectID:         subjectID,
		CourseID:          stringField(data, "courseId"),
		CompletedSections: sections,
		LastAccessed:      timeutil.Normalize(data["lastAccessed"], now),
	}
}

func engagementFromDoc(subjectID string, data map[string]any) *domain.EngagementStats {
	e := &domain.EngagementStats{SubjectID: subjectID}
	if v, ok := data["preferredTimeOfDay"]; ok && v != nil {
		s := fmt.Sprint(v)
		e.PreferredTimeOfDay = &s
	}
	if f, ok := number(data["averageSessionLength"]); ok {
		e.AverageSessionLength = &f
	}
	if f, ok := number(data["total_interactions"]); ok && f > 0 {
		e.TotalInteractions = int(f)
	}
	return e
}

func interactionDoc(u domain.EngagementUpdate) map[string]any {
	return map[string]any{
		"lastActive": gcfirestore.ServerTimestamp,
		"lastInteraction": map[string]any{
			"intent":          string(u.Intent),
			"message_length":  u.MessageLength,
			"response_length": u.ResponseLength,
			"language":        u.Language,
			"at":              u.At.UTC(),
		},
		"total_interactions": gcfirestore.Increment(1),
	}
}

func playgroundFromDoc(subjectID string, data map[string]any, now time.Time) *domain.PlaygroundActivity {
	active, _ := data["isActive"].(bool)
	if v, ok := data["active"].(bool); ok {
		active = v
	}
	return &domain.PlaygroundActivity{
		SubjectID: subjectID,
		Active:    active,
		Language:  stringField(data, "language"),
		LastSeen:  timeutil.Normalize(data["lastSeen"], now),
	}
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// stringList reports whether v is a list and returns its non-empty items.
func stringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := strings.TrimSpace(fmt.Sprint(item)); item != nil && s != "" {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
