package api

// Request payloads. Handlers fill them from form values; each API method
// validates its input before anything is sent.

type LoginRequest struct {
	Email    string `json:"email" form:"email" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required"`
}

type RegisterRequest struct {
	Name            string `json:"name" form:"name" validate:"required,min=2,max=100"`
	Email           string `json:"email" form:"email" validate:"required,email"`
	Password        string `json:"password" form:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"-" form:"confirm_password" validate:"eqfield=Password"`
}

type VerifyOTPRequest struct {
	Email string `json:"email" form:"email" validate:"required,email"`
	OTP   string `json:"otp" form:"otp" validate:"required,len=6,numeric"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" form:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token           string `json:"token" form:"token" validate:"required"`
	Password        string `json:"password" form:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"-" form:"confirm_password" validate:"eqfield=Password"`
}

type ProfileUpdate struct {
	Name  string `json:"name" form:"name" validate:"required,min=2,max=100"`
	Email string `json:"email" form:"email" validate:"required,email"`
}

type PasswordChange struct {
	CurrentPassword string `json:"currentPassword" form:"current_password" validate:"required"`
	NewPassword     string `json:"newPassword" form:"new_password" validate:"required,min=8,nefield=CurrentPassword"`
	ConfirmPassword string `json:"-" form:"confirm_password" validate:"eqfield=NewPassword"`
}

type ChapterInput struct {
	Title       string `json:"title" form:"title" validate:"required,max=200"`
	Description string `json:"description" form:"description" validate:"max=2000"`
	Order       int    `json:"order" form:"order" validate:"gte=0"`
}

type LessonInput struct {
	ChapterID string `json:"chapterId" form:"chapter_id" validate:"required"`
	Title     string `json:"title" form:"title" validate:"required,max=200"`
	Content   string `json:"content" form:"content" validate:"required"`
	VideoURL  string `json:"videoUrl,omitempty" form:"video_url" validate:"omitempty,url"`
	Order     int    `json:"order" form:"order" validate:"gte=0"`
	Duration  int    `json:"duration" form:"duration" validate:"gte=0"`
}

type QuizInput struct {
	ChapterID      string  `json:"chapterId" form:"chapter_id" validate:"required"`
	Title          string  `json:"title" form:"title" validate:"required,max=200"`
	Description    string  `json:"description" form:"description" validate:"max=2000"`
	TimeLimit      int     `json:"timeLimit" form:"time_limit" validate:"gte=0,lte=600"`
	TotalMarks     int     `json:"totalMarks" form:"total_marks" validate:"gte=0"`
	PassPercentage float64 `json:"passPercentage" form:"pass_percentage" validate:"gte=0,lte=100"`
}

type QuestionInput struct {
	Question      string   `json:"question" form:"question" validate:"required"`
	Options       []string `json:"options" form:"options" validate:"len=4,dive,required"`
	CorrectAnswer int      `json:"correctAnswer" form:"correct_answer" validate:"gte=0,lte=3"`
	Difficulty    string   `json:"difficulty" form:"difficulty" validate:"required,oneof=easy medium hard"`
	Marks         int      `json:"marks" form:"marks" validate:"gte=1"`
	Explanation   string   `json:"explanation" form:"explanation"`
}

// BulkUpload is forwarded as multipart form data; the file is not parsed here.
type BulkUpload struct {
	Filename  string `form:"filename" validate:"required"`
	Data      []byte `form:"file" validate:"required,min=1"`
	ChapterID string `form:"chapter_id" validate:"required"`
	QuizID    string `form:"quiz_id"`
}

// BulkUploadResult is the backend's summary of an import.
type BulkUploadResult struct {
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
	Message  string `json:"message"`
}
