package services

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"marketplace-settlement/errors"
	"marketplace-settlement/models"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary         = "Summary"
	sheetInconsistencies = "Inconsistencies"
	sheetOrphans         = "Orphaned Payments"
)

// PaymentLister loads payments in bulk for the orphan sheet.
type PaymentLister interface {
	PaymentsByIDs(ctx context.Context, ids []string) ([]models.Payment, error)
}

// ReportExporter writes a ConsistencyReport as an xlsx workbook.
type ReportExporter struct {
	payments PaymentLister
}

// NewReportExporter builds an exporter. payments may be nil, in which case the
// orphan sheet carries no amounts.
func NewReportExporter(payments PaymentLister) *ReportExporter {
	return &ReportExporter{payments: payments}
}

func (x *ReportExporter) Export(ctx context.Context, w io.Writer, report *ConsistencyReport) error {
	var details map[string]models.Payment
	if x.payments != nil && len(report.OrphanedPayments) > 0 {
		ids := make([]string, 0, len(report.OrphanedPayments))
		for _, o := range report.OrphanedPayments {
			ids = append(ids, o.PaymentID)
		}
		payments, err := x.payments.PaymentsByIDs(ctx, ids)
		if err != nil {
			return err
		}
		details = make(map[string]models.Payment, len(payments))
		for _, p := range payments {
			details[p.ID] = p
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("error naming summary sheet: %w", err)
	}
	for _, name := range []string{sheetInconsistencies, sheetOrphans} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("error creating sheet %s: %w", name, err)
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("error creating header style: %w", err)
	}

	summary := [][]interface{}{
		{"Checked at", report.CheckedAt.Format("2006-01-02 15:04:05 MST")},
		{"Bookings checked", report.BookingsChecked},
		{"Inconsistencies", len(report.Inconsistencies)},
		{"Orphaned payments", len(report.OrphanedPayments)},
		{"Valid", strconv.FormatBool(report.IsValid)},
	}
	if err := writeRows(f, sheetSummary, summary); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetSummary, "A1", "A5", bold); err != nil {
		return fmt.Errorf("error styling summary: %w", err)
	}

	rows := [][]interface{}{{"Booking", "Booking status", "Enrollment", "Enrollment payment status", "Payment", "Payment status", "Issue", "Suggested status"}}
	for _, inc := range report.Inconsistencies {
		rows = append(rows, []interface{}{
			inc.BookingID, string(inc.BookingStatus), inc.EnrollmentID, string(inc.EnrollmentStatus),
			inc.PaymentID, string(inc.PaymentStatus), inc.Issue, string(inc.SuggestedStatus),
		})
	}
	if err := writeRows(f, sheetInconsistencies, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetInconsistencies, "A1", "H1", bold); err != nil {
		return fmt.Errorf("error styling header: %w", err)
	}

	rows = [][]interface{}{{"Payment", "Missing booking", "Status", "Amount", "Currency", "Created at"}}
	for _, o := range report.OrphanedPayments {
		row := []interface{}{o.PaymentID, o.BookingID, string(o.Status), "", "", o.CreatedAt.Format("2006-01-02 15:04:05")}
		if p, ok := details[o.PaymentID]; ok {
			row[3] = p.Amount.StringFixed(2)
			row[4] = p.Currency
		}
		rows = append(rows, row)
	}
	if err := writeRows(f, sheetOrphans, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetOrphans, "A1", "F1", bold); err != nil {
		return fmt.Errorf("error styling header: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("error writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// RowError is a sheet row that could not be turned into an Outcome or settled.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ParseOutcomesSheet reads offline payment results (bank transfer statements,
// cash registers) from the first sheet. Headers are matched loosely; rows
// that cannot be parsed are reported and skipped.
func ParseOutcomesSheet(r io.Reader) ([]Outcome, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, errors.E(errors.Invalid, "failed to open Excel file", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.E(errors.Invalid, "no sheets found in Excel file")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, errors.E(errors.Invalid, "failed to read rows", err)
	}
	if len(rows) == 0 {
		return nil, nil, errors.E(errors.Invalid, "no data in sheet")
	}

	cols := detectColumns(rows[0])
	for _, required := range []string{"enrollment_id", "institution_id", "disposition"} {
		if cols[required] < 0 {
			return nil, nil, errors.E(errors.Invalid, "missing column "+required)
		}
	}

	var (
		outcomes []Outcome
		rowErrs  []RowError
	)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if len(row) == 0 {
			continue
		}
		o, err := outcomeFromRow(row, cols)
		if err == nil {
			err = o.Validate()
		}
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: i + 1, Error: errors.Message(err)})
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rowErrs, nil
}

func outcomeFromRow(row []string, cols map[string]int) (Outcome, error) {
	o := Outcome{
		EnrollmentID:        extractField(row, cols["enrollment_id"]),
		InstitutionID:       extractField(row, cols["institution_id"]),
		PaymentID:           extractField(row, cols["payment_id"]),
		Currency:            strings.ToUpper(extractField(row, cols["currency"])),
		Method:              strings.ToUpper(extractField(row, cols["method"])),
		ExternalRef:         extractField(row, cols["external_ref"]),
		Disposition:         Disposition(strings.ToUpper(extractField(row, cols["disposition"]))),
		OriginalExternalRef: extractField(row, cols["original_external_ref"]),
		FailureReason:       extractField(row, cols["failure_reason"]),
	}
	var err error
	if o.Amount, err = parseAmount(extractField(row, cols["amount"])); err != nil {
		return o, err
	}
	if o.RefundAmount, err = parseAmount(extractField(row, cols["refund_amount"])); err != nil {
		return o, err
	}
	return o, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.E(errors.Invalid, fmt.Sprintf("invalid amount %q", s))
	}
	return d, nil
}

// detectColumns finds column indices by matching header names
func detectColumns(headers []string) map[string]int {
	indices := map[string]int{
		"enrollment_id":         -1,
		"institution_id":        -1,
		"payment_id":            -1,
		"amount":                -1,
		"currency":              -1,
		"method":                -1,
		"external_ref":          -1,
		"disposition":           -1,
		"refund_amount":         -1,
		"original_external_ref": -1,
		"failure_reason":        -1,
	}

	for i, header := range headers {
		lower := strings.ToLower(strings.TrimSpace(header))
		switch lower {
		case "enrollment_id", "enrollment id", "enrollment":
			indices["enrollment_id"] = i
		case "institution_id", "institution id", "institution":
			indices["institution_id"] = i
		case "payment_id", "payment id":
			indices["payment_id"] = i
		case "amount", "paid amount":
			indices["amount"] = i
		case "currency":
			indices["currency"] = i
		case "method", "payment method", "payment_method":
			indices["method"] = i
		case "external_ref", "reference", "transaction id", "utr":
			indices["external_ref"] = i
		case "disposition", "result", "outcome":
			indices["disposition"] = i
		case "refund_amount", "refund amount":
			indices["refund_amount"] = i
		case "original_external_ref", "original reference":
			indices["original_external_ref"] = i
		case "failure_reason", "reason":
			indices["failure_reason"] = i
		}
	}
	return indices
}

// extractField safely extracts a field from a row
func extractField(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[index])
}

type ImportResult struct {
	Settled    int        `json:"settled"`
	Duplicates int        `json:"duplicates"`
	Failed     []RowError `json:"failed"`
}

// ImportOutcomes settles each outcome in order. Row numbers in Failed refer
// to the position in outcomes, starting at 1.
func ImportOutcomes(ctx context.Context, settler Settler, outcomes []Outcome) *ImportResult {
	res := &ImportResult{Failed: []RowError{}}
	for i, o := range outcomes {
		r, err := settler.Settle(ctx, o)
		switch {
		case err != nil:
			res.Failed = append(res.Failed, RowError{Row: i + 1, Error: err.Error()})
		case r.Duplicate:
			res.Duplicates++
		default:
			res.Settled++
		}
	}
	return res
}
