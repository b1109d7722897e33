package storage

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"fanzcore/core/types"
)

// TrustScoreStore is the gorm-backed trust.ScoreStore. Rows are
// append-only: one per scoring decision, signals snapshot included.
type TrustScoreStore struct {
	db *gorm.DB
}

// NewTrustScoreStore wraps an open database.
func NewTrustScoreStore(db *gorm.DB) *TrustScoreStore {
	return &TrustScoreStore{db: db}
}

// SaveScore implements trust.ScoreStore.
func (s *TrustScoreStore) SaveScore(ctx context.Context, score types.TrustScore) error {
	model := TrustScoreModel{
		ID:               score.ID,
		SubjectRef:       score.SubjectRef,
		Score:            score.Score,
		Confidence:       score.Confidence,
		ModelVersion:     score.ModelVersion,
		Decision:         string(score.Decision),
		ReasonCodes:      marshalJSON(score.ReasonCodes),
		Signals:          marshalJSON(score.Signals),
		Explanation:      score.Explanation,
		ProcessingTimeMs: score.ProcessingTime.Milliseconds(),
		CreatedAt:        score.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ScoresForSubject lists the decisions recorded for one subject,
// newest first.
func (s *TrustScoreStore) ScoresForSubject(ctx context.Context, subjectRef string, limit int) ([]types.TrustScore, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []TrustScoreModel
	err := s.db.WithContext(ctx).
		Where("subject_ref = ?", subjectRef).
		Order("created_at desc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.TrustScore, 0, len(models))
	for _, m := range models {
		score := types.TrustScore{
			ID:             m.ID,
			SubjectRef:     m.SubjectRef,
			Score:          m.Score,
			Confidence:     m.Confidence,
			ModelVersion:   m.ModelVersion,
			Decision:       types.TrustDecision(m.Decision),
			Explanation:    m.Explanation,
			ProcessingTime: time.Duration(m.ProcessingTimeMs) * time.Millisecond,
			CreatedAt:      m.CreatedAt,
		}
		_ = json.Unmarshal([]byte(m.ReasonCodes), &score.ReasonCodes)
		_ = json.Unmarshal([]byte(m.Signals), &score.Signals)
		out = append(out, score)
	}
	return out, nil
}
