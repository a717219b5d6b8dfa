package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/pavelanni/medcode/internal/model"
	"github.com/pavelanni/medcode/internal/validate"
)

// CreateChapter adds a chapter.
func (s *Session) CreateChapter(ctx context.Context, in ChapterInput) (*model.Chapter, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var out model.Chapter
	if err := s.Request(ctx, http.MethodPost, "/admin/chapters", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateChapter replaces a chapter's fields.
func (s *Session) UpdateChapter(ctx context.Context, id string, in ChapterInput) (*model.Chapter, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var out model.Chapter
	if err := s.Request(ctx, http.MethodPut, "/admin/chapters/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteChapter removes a chapter.
func (s *Session) DeleteChapter(ctx context.Context, id string) error {
	return s.Request(ctx, http.MethodDelete, "/admin/chapters/"+url.PathEscape(id), nil, nil)
}

// CreateLesson adds a lesson to a chapter.
func (s *Session) CreateLesson(ctx context.Context, in LessonInput) (*model.Lesson, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var out model.Lesson
	if err := s.Request(ctx, http.MethodPost, "/admin/lessons", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateLesson replaces a lesson's fields.
func (s *Session) UpdateLesson(ctx context.Context, id string, in LessonInput) (*model.Lesson, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var out model.Lesson
	if err := s.Request(ctx, http.MethodPut, "/admin/lessons/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteLesson removes a lesson.
func (s *Session) DeleteLesson(ctx context.Context, id string) error {
	return s.Request(ctx, http.MethodDelete, "/admin/lessons/"+url.PathEscape(id), nil, nil)
}

// CreateQuiz adds a quiz under a chapter.
func (s *Session) CreateQuiz(ctx context.Context, in QuizInput) (*model.Quiz, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var out model.Quiz
	if err := s.Request(ctx, http.MethodPost, "/quiz", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateQuiz replaces a quiz's metadata.
func (s *Session) UpdateQuiz(ctx context.Context, id string, in QuizInput) (*model.Quiz, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var out model.Quiz
	if err := s.Request(ctx, http.MethodPut, "/quiz/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteQuiz removes a quiz and its questions.
func (s *Session) DeleteQuiz(ctx context.Context, id string) error {
	return s.Request(ctx, http.MethodDelete, "/quiz/"+url.PathEscape(id), nil, nil)
}

// QuizQuestions lists a quiz's questions including answers (admin only).
func (s *Session) QuizQuestions(ctx context.Context, quizID string) ([]model.Question, error) {
	var out []model.Question
	if err := s.Request(ctx, http.MethodGet, "/quiz/"+url.PathEscape(quizID)+"/questions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChapterQuestions lists standalone questions of a chapter (admin only).
func (s *Session) ChapterQuestions(ctx context.Context, chapterID string) ([]model.Question, error) {
	var out []model.Question
	if err := s.Request(ctx, http.MethodGet, "/quiz/chapter/"+url.PathEscape(chapterID)+"/questions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddQuestion attaches a new question to a quiz.
func (s *Session) AddQuestion(ctx context.Context, quizID string, in QuestionInput) (*model.Question, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var out model.Question
	if err := s.Request(ctx, http.MethodPost, "/quiz/"+url.PathEscape(quizID)+"/questions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateQuestion replaces a question.
func (s *Session) UpdateQuestion(ctx context.Context, id string, in QuestionInput) (*model.Question, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var out model.Question
	if err := s.Request(ctx, http.MethodPut, "/quiz/questions/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteQuestion removes a question.
func (s *Session) DeleteQuestion(ctx context.Context, id string) error {
	return s.Request(ctx, http.MethodDelete, "/quiz/questions/"+url.PathEscape(id), nil, nil)
}

// BulkUploadQuestions forwards a question file as multipart form data.
func (s *Session) BulkUploadQuestions(ctx context.Context, in BulkUpload) (*BulkUploadResult, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", in.Filename)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := fw.Write(in.Data); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.WriteField("chapterId", in.ChapterID); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if in.QuizID != "" {
		if err := mw.WriteField("quizId", in.QuizID); err != nil {
			return nil, fmt.Errorf("build upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	req, err := s.c.NewRequest(ctx, http.MethodPost, "/quiz/bulk-upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out BulkUploadResult
	if err := s.Do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AllAttempts returns every attempt on the platform (admin reports).
func (s *Session) AllAttempts(ctx context.Context) ([]model.AttemptSummary, error) {
	var out []model.AttemptSummary
	if err := s.Request(ctx, http.MethodGet, "/quiz/attempts/all", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Users returns the user directory (admin only).
func (s *Session) Users(ctx context.Context) ([]model.User, error) {
	var out []model.User
	if err := s.Request(ctx, http.MethodGet, "/auth/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
