package services

import (
	"fmt"
	"os"
	"path/filepath"

	"marketplace-settlement/models"

	"github.com/jung-kurt/gofpdf"
)

// ReceiptGenerator renders payment receipts as PDF files in dir.
type ReceiptGenerator struct {
	dir string
}

func NewReceiptGenerator(dir string) *ReceiptGenerator {
	return &ReceiptGenerator{dir: dir}
}

// Generate writes receipt_<payment id>.pdf and returns its path.
func (g *ReceiptGenerator) Generate(n models.PaymentNotice) (string, error) {
	if n.PaymentID == "" {
		return "", fmt.Errorf("receipt needs a payment id")
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating receipt directory: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Payment Receipt")
	pdf.Ln(14)

	pdf.SetFont("Arial", "", 12)
	rows := [][2]string{
		{"Receipt No.", n.PaymentID},
		{"Student", n.StudentName},
		{"Course", n.CourseTitle},
		{"Institution", n.InstitutionName},
		{"Amount", fmt.Sprintf("%s %s", n.Currency, n.Amount.StringFixed(2))},
		{"Method", n.Method},
		{"Reference", n.ExternalRef},
		{"Date", n.OccurredAt.Format("02 Jan 2006 15:04 MST")},
	}
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		pdf.CellFormat(45, 8, r[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 8, r[1], "", 1, "L", false, 0, "")
	}

	pdf.Ln(10)
	pdf.SetFont("Arial", "I", 10)
	pdf.Cell(40, 10, "Thank you for your payment.")

	path := filepath.Join(g.dir, fmt.Sprintf("receipt_%s.pdf", filepath.Base(n.PaymentID)))
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("error generating receipt PDF: %w", err)
	}
	return path, nil
}
