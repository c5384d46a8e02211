package handlers

import (
	"net/http"

	"marketplace-settlement/http/response"
	"marketplace-settlement/logger"
	"marketplace-settlement/services"
)

const maxUploadBytes = 10 << 20

type ImportHandler struct {
	settler services.Settler
	log     *logger.Logger
}

func NewImportHandler(settler services.Settler, log *logger.Logger) *ImportHandler {
	return &ImportHandler{settler: settler, log: log}
}

// Outcomes settles offline payment results uploaded as an .xlsx sheet in
// the "file" form field. Unparseable rows are reported, not settled.
// POST /admin/outcomes/import
func (h *ImportHandler) Outcomes(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		response.ErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		response.ErrorResponse(w, http.StatusBadRequest, "Failed to retrieve file")
		return
	}
	defer file.Close()

	outcomes, rowErrs, err := services.ParseOutcomesSheet(file)
	if err != nil {
		response.FromError(w, err)
		return
	}
	h.log.Info("Importing %d outcomes from %s (%d unparseable rows)", len(outcomes), header.Filename, len(rowErrs))

	res := services.ImportOutcomes(r.Context(), h.settler, outcomes)
	response.SuccessResponse(w, http.StatusOK, "Import finished", map[string]interface{}{
		"settled":      res.Settled,
		"duplicates":   res.Duplicates,
		"failed":       res.Failed,
		"invalid_rows": rowErrs,
	})
}
