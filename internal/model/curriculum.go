package model

// Chapter is a curriculum module grouping lessons and quizzes.
type Chapter struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	LessonCount int    `json:"lessonCount"`
}

// Lesson is a single reading/video unit inside a chapter.
type Lesson struct {
	ID        string `json:"id" validate:"required"`
	ChapterID string `json:"chapterId"`
	Title     string `json:"title" validate:"required"`
	Content   string `json:"content"`
	VideoURL  string `json:"videoUrl,omitempty"`
	Order     int    `json:"order"`
	Duration  int    `json:"duration"` // minutes
}

// ChapterProgress is the completion state of one chapter.
type ChapterProgress struct {
	ChapterID        string   `json:"chapterId" validate:"required"`
	CompletedLessons []string `json:"completedLessons"`
	TotalLessons     int      `json:"totalLessons"`
	Percentage       float64  `json:"percentage" validate:"gte=0,lte=100"`
}

// Progress is the signed-in user's lesson completion record.
type Progress struct {
	CompletedLessons []string          `json:"completedLessons"`
	Chapters         []ChapterProgress `json:"chapters" validate:"dive"`
}

// Completed reports whether a lesson has been marked complete.
func (p *Progress) Completed(lessonID string) bool {
	if p == nil {
		return false
	}
	for _, id := range p.CompletedLessons {
		if id == lessonID {
			return true
		}
	}
	return false
}

// ForChapter returns the progress entry for a chapter, or a zero value.
func (p *Progress) ForChapter(chapterID string) ChapterProgress {
	if p != nil {
		for _, c := range p.Chapters {
			if c.ChapterID == chapterID {
				return c
			}
		}
	}
	return ChapterProgress{ChapterID: chapterID}
}
