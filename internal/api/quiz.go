package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pavelanni/medcode/internal/model"
)

// Quizzes lists the quizzes visible to the user.
func (s *Session) Quizzes(ctx context.Context) ([]model.Quiz, error) {
	var out []model.Quiz
	if err := s.Request(ctx, http.MethodGet, "/quiz", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Quiz returns quiz metadata without starting an attempt.
func (s *Session) Quiz(ctx context.Context, id string) (*model.Quiz, error) {
	var out model.Quiz
	if err := s.Request(ctx, http.MethodGet, "/quiz/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartQuiz opens a new attempt and returns its questions.
func (s *Session) StartQuiz(ctx context.Context, quizID string) (*model.StartedAttempt, error) {
	var out model.StartedAttempt
	if err := s.Request(ctx, http.MethodPost, "/quiz/"+url.PathEscape(quizID)+"/start", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitQuiz sends the answers of an attempt and returns the graded result.
func (s *Session) SubmitQuiz(ctx context.Context, sub model.Submission) (*model.GradedResult, error) {
	if sub.Answers == nil {
		sub.Answers = map[string]int{}
	}
	var out model.GradedResult
	if err := s.Request(ctx, http.MethodPost, "/quiz/submit", sub, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Leaderboard returns the ranked users.
func (s *Session) Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	var out []model.LeaderboardEntry
	if err := s.Request(ctx, http.MethodGet, "/quiz/leaderboard", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MyAttempts returns the signed-in user's attempt history.
func (s *Session) MyAttempts(ctx context.Context) ([]model.AttemptSummary, error) {
	var out []model.AttemptSummary
	if err := s.Request(ctx, http.MethodGet, "/quiz/attempts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
