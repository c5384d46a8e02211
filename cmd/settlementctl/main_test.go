package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"marketplace-settlement/http/middleware"
	"marketplace-settlement/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := rootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, _, err := run(t, "token", "--sub", "u-7", "--role", "INSTITUTION", "--institution", "inst-1", "--secret", "s3cret")
	require.NoError(t, err)

	actor, err := middleware.ParseToken("s3cret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, services.Actor{ID: "u-7", Role: services.RoleInstitution, InstitutionID: "inst-1"}, actor)
}

func TestTokenCommandNeedsSubject(t *testing.T) {
	_, _, err := run(t, "token", "--secret", "s3cret")
	assert.Error(t, err)
}

func TestImportDryRun(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"Enrollment ID", "Institution ID", "Disposition", "Amount", "Currency", "Reference"},
		{"enr-1", "inst-1", "SUCCESS", "1000", "INR", "bank_1"},
		{"enr-2", "", "SUCCESS", "500", "INR", "bank_2"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	path := filepath.Join(t.TempDir(), "outcomes.xlsx")
	require.NoError(t, f.SaveAs(path))

	out, errOut, err := run(t, "import", path, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "1 outcomes parsed, 1 rows skipped")
	assert.Contains(t, errOut, "row 3 skipped")
}
