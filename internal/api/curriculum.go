package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pavelanni/medcode/internal/model"
)

// Chapters lists all curriculum modules.
func (s *Session) Chapters(ctx context.Context) ([]model.Chapter, error) {
	var out []model.Chapter
	if err := s.Request(ctx, http.MethodGet, "/chapters", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Chapter returns one chapter.
func (s *Session) Chapter(ctx context.Context, id string) (*model.Chapter, error) {
	var out model.Chapter
	if err := s.Request(ctx, http.MethodGet, "/chapters/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LessonsByChapter lists a chapter's lessons in backend order.
func (s *Session) LessonsByChapter(ctx context.Context, chapterID string) ([]model.Lesson, error) {
	var out []model.Lesson
	if err := s.Request(ctx, http.MethodGet, "/lessons/chapter/"+url.PathEscape(chapterID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Lesson returns one lesson.
func (s *Session) Lesson(ctx context.Context, id string) (*model.Lesson, error) {
	var out model.Lesson
	if err := s.Request(ctx, http.MethodGet, "/lessons/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteLesson marks a lesson as done for the signed-in user.
func (s *Session) CompleteLesson(ctx context.Context, lessonID string) error {
	body := map[string]string{"lessonId": lessonID}
	return s.Request(ctx, http.MethodPost, "/progress/complete", body, nil)
}

// Progress returns the signed-in user's completion record.
func (s *Session) Progress(ctx context.Context) (*model.Progress, error) {
	var out model.Progress
	if err := s.Request(ctx, http.MethodGet, "/progress", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
