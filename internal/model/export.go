package model

import "time"

// AttemptsExport is the top-level JSON structure written by `medcode export`.
type AttemptsExport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Backend     string           `json:"backend"`
	NumAttempts int              `json:"num_attempts"`
	PassRate    float64          `json:"pass_rate"`
	Quizzes     []QuizReport     `json:"quizzes"`
	Attempts    []AttemptSummary `json:"attempts"`
}

// QuizReport aggregates attempts of a single quiz.
type QuizReport struct {
	QuizID         string  `json:"quiz_id"`
	QuizTitle      string  `json:"quiz_title"`
	Attempts       int     `json:"attempts"`
	Passed         int     `json:"passed"`
	AveragePercent float64 `json:"average_percent"`
	BestPercent    float64 `json:"best_percent"`
}

// BuildQuizReports groups attempts per quiz, ordered by first appearance.
func BuildQuizReports(attempts []AttemptSummary) []QuizReport {
	idx := make(map[string]int)
	var reports []QuizReport
	for _, a := range attempts {
		i, ok := idx[a.QuizID]
		if !ok {
			i = len(reports)
			idx[a.QuizID] = i
			reports = append(reports, QuizReport{QuizID: a.QuizID, QuizTitle: a.QuizTitle})
		}
		r := &reports[i]
		r.Attempts++
		if a.Passed {
			r.Passed++
		}
		r.AveragePercent += a.Percentage
		if a.Percentage > r.BestPercent {
			r.BestPercent = a.Percentage
		}
	}
	for i := range reports {
		reports[i].AveragePercent /= float64(reports[i].Attempts)
	}
	return reports
}

// PassRate returns the share of passed attempts in percent.
func PassRate(attempts []AttemptSummary) float64 {
	if len(attempts) == 0 {
		return 0
	}
	passed := 0
	for _, a := range attempts {
		if a.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(attempts)) * 100
}
