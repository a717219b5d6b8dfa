package model

import "sort"

// AttemptStats summarises a user's quiz history for the analytics page.
type AttemptStats struct {
	Attempts       int
	Passed         int
	AveragePercent float64
	BestPercent    float64
	TotalTime      int // seconds
	Recent         []AttemptSummary
}

// ComputeAttemptStats aggregates attempts; Recent holds up to five newest entries.
func ComputeAttemptStats(attempts []AttemptSummary) AttemptStats {
	var st AttemptStats
	for _, a := range attempts {
		st.Attempts++
		if a.Passed {
			st.Passed++
		}
		st.AveragePercent += a.Percentage
		st.TotalTime += a.TimeTaken
		if a.Percentage > st.BestPercent {
			st.BestPercent = a.Percentage
		}
	}
	if st.Attempts > 0 {
		st.AveragePercent /= float64(st.Attempts)
	}
	recent := append([]AttemptSummary(nil), attempts...)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	if len(recent) > 5 {
		recent = recent[:5]
	}
	st.Recent = recent
	return st
}

// DeriveCertificates returns one certificate per chapter whose lessons are all
// complete and for which at least one quiz attempt passed. The earliest passing
// attempt dates the certificate.
func DeriveCertificates(chapters []Chapter, progress *Progress, attempts []AttemptSummary) []Certificate {
	var certs []Certificate
	for _, ch := range chapters {
		cp := progress.ForChapter(ch.ID)
		if cp.TotalLessons == 0 || len(cp.CompletedLessons) < cp.TotalLessons {
			continue
		}
		var best *AttemptSummary
		for i := range attempts {
			a := &attempts[i]
			if a.ChapterID != ch.ID || !a.Passed {
				continue
			}
			if best == nil || a.CreatedAt.Before(best.CreatedAt) {
				best = a
			}
		}
		if best == nil {
			continue
		}
		certs = append(certs, Certificate{
			ChapterID:    ch.ID,
			ChapterTitle: ch.Title,
			QuizTitle:    best.QuizTitle,
			Percentage:   best.Percentage,
			EarnedAt:     best.CreatedAt,
		})
	}
	return certs
}
