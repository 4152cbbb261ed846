package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"timetablecal/internal/extract"
	"timetablecal/internal/ics"
	appLog "timetablecal/internal/log"
	"timetablecal/internal/model"
	"timetablecal/internal/session"
)

const (
	downloadName = "timetable_schedule.ics"

	defaultPreviewWeeks = 2
	maxPreviewWeeks     = 12

	// multipartOverhead is slack on top of the file limit for form headers.
	multipartOverhead = 1 << 20
)

var requiredKeys = []string{"day", "time", "subject", "location"}

// stateResponse always carries both fields, even when the list is empty.
type stateResponse struct {
	Success       bool          `json:"success"`
	TimetableData []model.Entry `json:"timetableData"`
	CurrentStep   int           `json:"currentStep"`
}

// handleState returns the caller's current entries and workflow step.
//
// GET /api/state
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, stateResponse{
		Success:       true,
		TimetableData: sess.Entries,
		CurrentStep:   sess.Step,
	})
}

// handleUploadAndAnalyze sends the uploaded timetable to the extractor and
// stores the result in the session.
//
// POST /api/upload_and_analyze (multipart form, field "file")
func (s *Server) handleUploadAndAnalyze(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	up, status, msg := s.readUpload(w, r)
	if status != 0 {
		writeError(w, status, msg)
		return
	}
	if err := extract.ValidateUpload(&up, s.cfg.Upload.MaxBytes); err != nil {
		writeError(w, http.StatusBadRequest, s.uploadErrorMessage(err))
		return
	}

	if s.extractor == nil {
		appLog.Error("upload rejected", extract.ErrNotConfigured)
		writeError(w, http.StatusInternalServerError, "GEMINI_API_KEY is not configured on the server.")
		return
	}

	entries, err := s.extractor.Extract(r.Context(), up)
	if err != nil {
		appLog.Error("extraction failed", err, "file", up.Filename, "mime", up.MIMEType, "bytes", len(up.Data))
		var pe *extract.ProviderError
		if errors.As(err, &pe) {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Gemini API error: %v", pe.Err))
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Analysis failed: %v", err))
		return
	}

	if len(entries) == 0 {
		writeJSON(w, http.StatusOK, apiResponse{
			Success: false,
			Message: "Analysis complete, but no schedule items were found.",
		})
		return
	}

	updated, err := s.storeEntries(sess.ID, entries, session.StepReview)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Session expired, please reload.")
		return
	}

	appLog.Info("upload analyzed", "session", shortID(sess.ID), "entries", len(entries))
	writeJSON(w, http.StatusOK, apiResponse{
		Success:       true,
		Message:       "Analysis successful! Review and edit the extracted data.",
		TimetableData: updated.Entries,
		CurrentStep:   updated.Step,
	})
}

// updateRequest is the body of /api/update_data.
type updateRequest struct {
	TimetableData json.RawMessage `json:"timetableData"`
	CurrentStep   *int            `json:"currentStep"`
}

// handleUpdateData replaces the session's entries with the user's edits.
//
// POST /api/update_data {"timetableData": [...], "currentStep": 2}
func (s *Server) handleUpdateData(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req updateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.cfg.Upload.MaxBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data format.")
		return
	}

	entries, ok, msg := decodeEditedEntries(req.TimetableData)
	if !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	step := session.StepReview
	if req.CurrentStep != nil {
		step = *req.CurrentStep
	}
	if step < session.StepUpload || step > session.StepExport {
		writeError(w, http.StatusBadRequest, "Invalid workflow step.")
		return
	}

	updated, err := s.storeEntries(sess.ID, entries, step)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Session expired, please reload.")
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success:     true,
		Message:     "Timetable data updated.",
		CurrentStep: updated.Step,
	})
}

// decodeEditedEntries checks that raw is a list of objects that each carry
// all four entry keys. A missing or null list means "no entries".
func decodeEditedEntries(raw json.RawMessage) ([]model.Entry, bool, string) {
	if len(raw) == 0 || string(raw) == "null" {
		return []model.Entry{}, true, ""
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, "Invalid data format."
	}

	out := make([]model.Entry, 0, len(items))
	for _, it := range items {
		for _, k := range requiredKeys {
			if _, ok := it[k]; !ok {
				return nil, false, "Data entry missing required fields."
			}
		}
		out = append(out, model.Entry{
			Day:      field(it["day"]),
			Time:     field(it["time"]),
			Subject:  field(it["subject"]),
			Location: field(it["location"]),
		})
	}
	return out, true, ""
}

func field(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// handleDownloadICS serves the session's entries as a recurring calendar.
// Entries that cannot be turned into events are left out; their count is
// reported in the X-Timetable-Skipped header.
//
// GET /download_ics
func (s *Server) handleDownloadICS(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	if len(sess.Entries) == 0 {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "Timetable data is empty.")
		return
	}

	res := s.generator.Generate(sess.Entries, s.cfg.Calendar.ID)
	for _, sk := range res.Skipped {
		appLog.Warn("entry left out of calendar",
			"session", shortID(sess.ID),
			"index", sk.Index,
			"subject", sk.Subject,
			"day", sk.Day,
			"time", sk.Time,
			"reason", string(sk.Reason),
		)
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+downloadName+`"`)
	w.Header().Set("X-Timetable-Skipped", strconv.Itoa(len(res.Skipped)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, res.Calendar); err != nil {
		appLog.Error("failed to write calendar", err)
	}
}

// previewResponse is the JSON response shape for /api/preview.
type previewResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	Skipped         []ics.Skipped   `json:"skipped,omitempty"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Summary     string    `json:"summary"`
	Location    string    `json:"location"`
	Weekday     string    `json:"weekday"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// handlePreview renders the session's calendar and expands it into the
// concrete occurrences of the next few weeks.
//
// GET /api/preview?weeks=2
//   - weeks: how many weeks ahead to show (default 2, max 12)
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	weeks := parseIntDefault(r.URL.Query().Get("weeks"), defaultPreviewWeeks)
	if weeks <= 0 {
		weeks = defaultPreviewWeeks
	}
	if weeks > maxPreviewWeeks {
		weeks = maxPreviewWeeks
	}

	now := s.now().In(s.loc)
	rangeEnd := now.AddDate(0, 0, 7*weeks)

	resp := previewResponse{
		Occurrences:     []occurrenceDTO{},
		RangeStart:      now,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: s.loc.String(),
	}

	if len(sess.Entries) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res := s.generator.Generate(sess.Entries, s.cfg.Calendar.ID)
	resp.Skipped = res.Skipped

	events, err := ics.ParseICS([]byte(res.Calendar), s.loc)
	if err != nil {
		appLog.Error("preview: parse failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to build preview.")
		return
	}

	expanded, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
		DisplayLocation: s.loc,
		RangeStart:      now,
		RangeEnd:        rangeEnd,
	})
	if err != nil {
		appLog.Error("preview: expand failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to build preview.")
		return
	}

	for _, occ := range expanded.Occurrences {
		resp.Occurrences = append(resp.Occurrences, occurrenceDTO{
			UID:         occ.UID,
			InstanceKey: occ.InstanceKey,
			Summary:     occ.Summary,
			Location:    occ.Location,
			Weekday:     occ.Start.Weekday().String(),
			Start:       occ.Start,
			End:         occ.End,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleImportICS loads entries from an existing .ics file so a previous
// export can be edited again.
//
// POST /api/import_ics (multipart form, field "file")
func (s *Server) handleImportICS(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	up, status, msg := s.readUpload(w, r)
	if status != 0 {
		writeError(w, status, msg)
		return
	}
	if len(up.Data) == 0 {
		writeError(w, http.StatusBadRequest, "No selected file")
		return
	}

	events, err := ics.ParseICS(up.Data, s.loc)
	if err != nil {
		appLog.Error("import: parse failed", err, "file", up.Filename)
		writeError(w, http.StatusBadRequest, "Could not read calendar file.")
		return
	}

	entries := ics.EntriesFromEvents(events, s.loc)
	if len(entries) == 0 {
		writeJSON(w, http.StatusOK, apiResponse{
			Success: false,
			Message: "No timed events were found in the calendar file.",
		})
		return
	}

	updated, err := s.storeEntries(sess.ID, entries, session.StepReview)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Session expired, please reload.")
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success:       true,
		Message:       fmt.Sprintf("Imported %d events. Review and edit the data.", len(entries)),
		TimetableData: updated.Entries,
		CurrentStep:   updated.Step,
	})
}

// readUpload pulls the "file" field out of a multipart request. A non-zero
// status means the request was rejected with msg.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (extract.Upload, int, string) {
	limit := s.cfg.Upload.MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	if err := r.ParseMultipartForm(limit + multipartOverhead); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return extract.Upload{}, http.StatusBadRequest, s.uploadErrorMessage(extract.ErrFileTooLarge)
		}
		return extract.Upload{}, http.StatusBadRequest, "No file part"
	}

	f, fh, err := r.FormFile("file")
	if err != nil {
		// A part sent with an empty filename is parsed as a plain value.
		if _, ok := r.MultipartForm.Value["file"]; ok {
			return extract.Upload{}, http.StatusBadRequest, "No selected file"
		}
		return extract.Upload{}, http.StatusBadRequest, "No file part"
	}
	defer f.Close()

	if fh.Filename == "" {
		return extract.Upload{}, http.StatusBadRequest, "No selected file"
	}

	// Read one byte past the limit so ValidateUpload can see the overflow.
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return extract.Upload{}, http.StatusInternalServerError, fmt.Sprintf("File reading error: %v", err)
	}

	return extract.Upload{
		Filename: fh.Filename,
		MIMEType: fh.Header.Get("Content-Type"),
		Data:     data,
	}, 0, ""
}

func (s *Server) uploadErrorMessage(err error) string {
	switch {
	case errors.Is(err, extract.ErrFileTooLarge):
		return fmt.Sprintf("File size must be under %s.", formatSize(s.cfg.Upload.MaxBytes))
	case errors.Is(err, extract.ErrUnsupportedMIME):
		return "Please upload an image or PDF file."
	case errors.Is(err, extract.ErrNoFile):
		return "No selected file"
	default:
		return err.Error()
	}
}

func (s *Server) storeEntries(id string, entries []model.Entry, step int) (*session.Session, error) {
	return s.sessions.Update(id, func(ss *session.Session) {
		ss.Entries = entries
		ss.Step = step
	})
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dKB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// shortID keeps session IDs out of logs in full.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
