package model

import "time"

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// OptionCount is the fixed number of answer options per question.
const OptionCount = 4

// Quiz is immutable for the lifetime of an attempt.
type Quiz struct {
	ID             string  `json:"id" validate:"required"`
	Title          string  `json:"title" validate:"required"`
	Description    string  `json:"description"`
	ChapterID      string  `json:"chapterId"`
	TimeLimit      int     `json:"timeLimit" validate:"gte=0"` // minutes
	TotalMarks     int     `json:"totalMarks" validate:"gte=0"`
	PassPercentage float64 `json:"passPercentage" validate:"gte=0,lte=100"`
	QuestionCount  int     `json:"questionCount,omitempty"`
}

// Question is a multiple-choice question owned by a quiz or a chapter.
// CorrectAnswer and Explanation are only populated for admins and in results.
type Question struct {
	ID            string     `json:"id" validate:"required"`
	QuizID        string     `json:"quizId,omitempty"`
	ChapterID     string     `json:"chapterId,omitempty"`
	Question      string     `json:"question" validate:"required"`
	Options       []string   `json:"options" validate:"min=2"`
	CorrectAnswer int        `json:"correctAnswer"`
	Difficulty    Difficulty `json:"difficulty,omitempty"`
	Marks         int        `json:"marks"`
	Explanation   string     `json:"explanation,omitempty"`
}

// StartedAttempt is the backend's answer to POST /quiz/:id/start.
type StartedAttempt struct {
	AttemptID string     `json:"attemptId" validate:"required"`
	Quiz      Quiz       `json:"quiz"`
	Questions []Question `json:"questions" validate:"dive"`
}

// Submission is the body of POST /quiz/submit.
type Submission struct {
	AttemptID string         `json:"attemptId"`
	Answers   map[string]int `json:"answers"`
}

// AnswerResult is the graded outcome of one question.
type AnswerResult struct {
	QuestionID     string `json:"questionId" validate:"required"`
	SelectedAnswer *int   `json:"selectedAnswer"`
	IsCorrect      bool   `json:"isCorrect"`
	CorrectAnswer  *int   `json:"correctAnswer,omitempty"`
	Explanation    string `json:"explanation,omitempty"`
}

// GradedResult is created once by the backend on submit and never changes.
type GradedResult struct {
	Score      float64        `json:"score" validate:"gte=0"`
	Total      float64        `json:"total" validate:"gte=0"`
	Percentage float64        `json:"percentage" validate:"gte=0,lte=100"`
	Passed     bool           `json:"passed"`
	TimeTaken  int            `json:"timeTaken"` // seconds
	Results    []AnswerResult `json:"results" validate:"dive"`
}

// ResultFor returns the graded entry for a question, if any.
func (g *GradedResult) ResultFor(questionID string) (AnswerResult, bool) {
	if g == nil {
		return AnswerResult{}, false
	}
	for _, r := range g.Results {
		if r.QuestionID == questionID {
			return r, true
		}
	}
	return AnswerResult{}, false
}

// AttemptSummary is one row of the attempt history (student analytics and admin reports).
type AttemptSummary struct {
	ID         string    `json:"id" validate:"required"`
	QuizID     string    `json:"quizId"`
	QuizTitle  string    `json:"quizTitle"`
	ChapterID  string    `json:"chapterId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	UserName   string    `json:"userName,omitempty"`
	UserEmail  string    `json:"userEmail,omitempty"`
	Score      float64   `json:"score"`
	Total      float64   `json:"total"`
	Percentage float64   `json:"percentage"`
	Passed     bool      `json:"passed"`
	TimeTaken  int       `json:"timeTaken"`
	CreatedAt  time.Time `json:"createdAt"`
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank           int     `json:"rank"`
	UserID         string  `json:"userId"`
	Name           string  `json:"name" validate:"required"`
	BestPercentage float64 `json:"bestPercentage"`
	AverageScore   float64 `json:"averageScore"`
	Attempts       int     `json:"attempts"`
}

// Certificate is earned for a chapter once every lesson is complete and a quiz is passed.
type Certificate struct {
	ChapterID    string
	ChapterTitle string
	QuizTitle    string
	Percentage   float64
	EarnedAt     time.Time
}
