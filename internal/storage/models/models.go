package models

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one message in a chatbot session.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Message string `json:"message"`
}

// DocumentPreview is the cached prefix of a material's text, stored with its quiz.
type DocumentPreview struct {
	ClassID     string
	PDFURL      string
	TextPreview string
}

// GroundingDocument is passed to the completion call as source material.
type GroundingDocument struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// MaterialMetadata describes an uploaded material. Keys beyond the four known ones are kept in
// Extra and written back out unchanged.
type MaterialMetadata struct {
	ClassID    string                 `json:"class_id"`
	MaterialID string                 `json:"material_id"`
	Subject    string                 `json:"subject"`
	TeacherID  string                 `json:"teacher_id"`
	Extra      map[string]interface{} `json:"-"`
}

var materialMetadataKeys = []string{"class_id", "material_id", "subject", "teacher_id"}

func (m *MaterialMetadata) UnmarshalJSON(data []byte) error {
	type known MaterialMetadata
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}

	var all map[string]interface{}
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, key := range materialMetadataKeys {
		delete(all, key)
	}
	if len(all) > 0 {
		k.Extra = all
	}

	*m = MaterialMetadata(k)
	return nil
}

func (m MaterialMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Extra)+len(materialMetadataKeys))
	for k, v := range m.Extra {
		out[k] = v
	}
	out["class_id"] = m.ClassID
	out["material_id"] = m.MaterialID
	out["subject"] = m.Subject
	out["teacher_id"] = m.TeacherID
	return json.Marshal(out)
}

type Quiz struct {
	ID          string
	CreatedBy   string
	ClassID     string
	Subject     string
	Questions   json.RawMessage
	MaterialID  string
	PDFURL      string
	TextPreview string
	CreatedAt   time.Time
}

// ExamRecord points at a generated exam paper in the blob store.
type ExamRecord struct {
	ID         string
	Subject    string
	FileURL    string
	TeacherID  string
	MaterialID string
	ClassID    string
	CreatedAt  time.Time
}

type ChatRecord struct {
	ID            string    `json:"id"`
	ClassID       string    `json:"class_id"`
	UserID        string    `json:"user_id"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	DocumentsUsed int       `json:"documents_used"`
	LatencyMS     int       `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

type MCQ struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   int      `json:"answer"`
}

type ExamQuestions struct {
	TwoMark      []string `json:"2_mark"`
	ThirteenMark []string `json:"13_mark"`
}

type SubjectResult struct {
	Semester   string `json:"semester"`
	CourseName string `json:"course_name"`
	Code       string `json:"code"`
	Credits    string `json:"credits"`
	Grade      string `json:"grade"`
	GradePoint string `json:"grade_point"`
	Result     string `json:"result"`
}

type StudentResult struct {
	Status         string          `json:"status"`
	RegisterNumber string          `json:"register_number"`
	Name           string          `json:"name"`
	Degree         string          `json:"degree"`
	ExamMonth      string          `json:"exam_month"`
	SGPA           interface{}     `json:"sgpa"`
	Subjects       []SubjectResult `json:"subjects"`
}
