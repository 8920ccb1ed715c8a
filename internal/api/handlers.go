package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/donor-import/internal/importer"
	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/spreadsheet"
	"github.com/sells-group/donor-import/internal/store"
)

// multipartOverhead is allowed on top of the file limit for form fields and
// part headers.
const multipartOverhead = 1 << 20

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// badRequestError marks malformed form input.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

type upload struct {
	name     string
	data     []byte
	mappings []model.FieldMapping
	options  model.ImportOptions
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) template(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := spreadsheet.WriteTemplate(&buf, h.registry); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="donor-import-template.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(w, r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Preview(up.data, up.name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(w, r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Analyze(r.Context(), up.data, up.name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(w, r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Validate(r.Context(), up.data, up.name, up.mappings, up.options)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(w, r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := h.svc.Submit(r.Context(), up.data, up.name, up.mappings, up.options)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"importId":  job.ID,
		"status":    job.Status,
		"totalRows": job.TotalRows,
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Status(r.Context(), chi.URLParam(r, "importId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) jobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, &badRequestError{msg: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	status := model.JobStatus(q.Get("status"))

	jobs, err := h.svc.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []model.ImportJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "importId")

	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, multipartOverhead)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, &badRequestError{msg: "invalid request body"})
			return
		}
	}

	if err := h.svc.Cancel(r.Context(), id, body.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"importId":              id,
		"cancellationRequested": true,
	})
}

// readUpload reads the "file" part and, when withMapping is set, the
// optional "mapping" and "options" JSON fields.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request, withMapping bool) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &spreadsheet.SizeLimitError{Size: maxErr.Limit + 1, Limit: h.maxBytes}
		}
		return nil, &badRequestError{msg: "expected a multipart/form-data upload"}
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	f, fh, err := r.FormFile("file")
	if err != nil {
		return nil, &badRequestError{msg: `missing "file" part`}
	}
	defer f.Close() //nolint:errcheck

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, eris.Wrap(err, "api: read upload")
	}
	up := &upload{name: fh.Filename, data: data}

	if !withMapping {
		return up, nil
	}
	if s := r.FormValue("mapping"); s != "" {
		if err := json.Unmarshal([]byte(s), &up.mappings); err != nil {
			return nil, &badRequestError{msg: `"mapping" must be a JSON array of field mappings`}
		}
	}
	if s := r.FormValue("options"); s != "" {
		if err := json.Unmarshal([]byte(s), &up.options); err != nil {
			return nil, &badRequestError{msg: `"options" must be a JSON object`}
		}
	}
	return up, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// writeError maps err to a status code. Ingestion and input problems are
// 4xx; anything unrecognized is a 500.
func writeError(w http.ResponseWriter, err error) {
	var (
		badReq     *badRequestError
		formatErr  *spreadsheet.FormatError
		emptyErr   *spreadsheet.EmptyFileError
		sizeErr    *spreadsheet.SizeLimitError
		incomplete *importer.IncompleteMappingError
	)

	switch {
	case errors.As(err, &badReq):
		writeJSON(w, http.StatusBadRequest, errorResponse{errorBody{Code: "bad_request", Message: badReq.msg}})
	case errors.As(err, &formatErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{errorBody{Code: "invalid_format", Message: formatErr.Error()}})
	case errors.As(err, &emptyErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{errorBody{Code: "empty_file", Message: emptyErr.Error()}})
	case errors.As(err, &sizeErr):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{errorBody{Code: "file_too_large", Message: sizeErr.Error()}})
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{errorBody{
			Code:    "incomplete_mapping",
			Message: incomplete.Error(),
			Details: incomplete.Mapping,
		}})
	case errors.Is(err, store.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{errorBody{Code: "not_found", Message: "import not found"}})
	case errors.Is(err, store.ErrJobTerminal):
		writeJSON(w, http.StatusConflict, errorResponse{errorBody{Code: "job_finished", Message: "import has already finished"}})
	default:
		zap.L().Error("api: request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{errorBody{Code: "internal_error", Message: "internal server error"}})
	}
}
