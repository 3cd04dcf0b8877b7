package exam

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/smartclass/backend/internal/storage/models"
)

// RenderPaper lays out the questions as an A4 exam paper and returns the PDF bytes.
func RenderPaper(subject string, questions *models.ExamQuestions) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle("Exam Question Paper - "+subject, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr("Exam Question Paper - "+subject), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	section := func(heading string, items []string) {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, heading, "", 1, "L", false, 0, "")
		pdf.Ln(2)

		pdf.SetFont("Helvetica", "", 11)
		for i, q := range items {
			pdf.MultiCell(0, 6, tr(fmt.Sprintf("%d. %s", i+1, q)), "", "L", false)
			pdf.Ln(2)
		}
		pdf.Ln(4)
	}

	section("Section A - 2 Marks", questions.TwoMark)
	section("Section B - 13 Marks", questions.ThirteenMark)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render exam paper: %w", err)
	}
	return buf.Bytes(), nil
}
