package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"

	"framer/internal/collection"
	"framer/internal/export"
	"framer/internal/frame"
	"framer/internal/imageio"
	"framer/internal/pipeline"
	"framer/internal/storage"
)

type paramsView struct {
	Ratio      string `json:"ratio"`
	Border     int    `json:"border"`
	Background string `json:"background"`
	Color      string `json:"color"`
	Blur       int    `json:"blur"`
}

func viewOf(p frame.Params) paramsView {
	return paramsView{
		Ratio:      p.AspectRatio,
		Border:     p.Border,
		Background: string(p.Background),
		Color:      p.ColorHex(),
		Blur:       p.BlurRadius,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) currentParams() frame.Params {
	return s.prefs.LoadOrDefault()
}

// formParams overlays the request's form fields on the saved parameters.
func (s *Server) formParams(r *http.Request) (frame.Params, error) {
	fields := map[string]string{}
	for _, k := range []string{frame.FieldRatio, frame.FieldBorder, frame.FieldBackground, frame.FieldColor, frame.FieldBlur} {
		fields[k] = r.FormValue(k)
	}
	return s.currentParams().With(fields)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleAspectRatios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ratios":         frame.AspectRatios(),
		"groups":         frame.Categories(),
		"border_presets": frame.BorderPresets,
		"limits": map[string]int{
			"border_min":  frame.MinBorder,
			"border_max":  frame.MaxBorder,
			"border_step": frame.BorderStep,
			"blur_min":    frame.MinBlur,
			"blur_max":    frame.MaxBlur,
			"blur_step":   frame.BlurStep,
		},
	})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(s.currentParams()))
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	fields := make(map[string]string, len(body))
	for k, v := range body {
		if v != nil {
			fields[k] = fmt.Sprint(v)
		}
	}
	p, err := s.currentParams().With(fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.prefs.Save(p); err != nil {
		s.log.Warn("preferences not saved", "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

func readPart(fh *multipart.FileHeader) (collection.Source, error) {
	f, err := fh.Open()
	if err != nil {
		return collection.Source{}, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return collection.Source{}, err
	}
	return collection.Source{Name: filepath.Base(fh.Filename), Data: b}, nil
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
		return
	}
	p, err := s.formParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, fh, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("missing image file"))
		return
	}
	src, err := readPart(fh)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.loader.Load(r.Context(), []collection.Source{src})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if len(res.Failed) > 0 {
		writeError(w, http.StatusUnprocessableEntity, res.Failed[0])
		return
	}
	item := res.Items[0]

	b, err := s.seq.EncodeFrame(item, p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	dims := s.seq.Compositor.Dimensions(item.Image, p)
	w.Header().Set("Content-Type", s.seq.Encoder.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.Header().Set("X-Frame-Width", strconv.Itoa(dims.Width))
	w.Header().Set("X-Frame-Height", strconv.Itoa(dims.Height))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", export.ExportName(item.Name, p.Ratio().Token, s.seq.Encoder.Extension())))
	if r.URL.Query().Get("caption") == "1" {
		w.Header().Set("X-Frame-Caption", s.seq.Compositor.Caption(item.Name, item.Image, p))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

type probeView struct {
	Source   *imageio.Info    `json:"source"`
	Frame    frame.Dimensions `json:"frame"`
	Filename string           `json:"filename"`
	Params   paramsView       `json:"params"`
}

// handleProbe reports what compose would produce from the upload's header
// alone. Containers that need conversion cannot be probed.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
		return
	}
	p, err := s.formParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, fh, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("missing image file"))
		return
	}
	src, err := readPart(fh)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	info, err := imageio.Probe(src.Data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("%s: %w", src.Name, err))
		return
	}
	writeJSON(w, http.StatusOK, probeView{
		Source:   info,
		Frame:    frame.ResolveDimensions(info.Width, info.Height, p.Ratio(), s.seq.Compositor.MaxDimension),
		Filename: export.ExportName(src.Name, p.Ratio().Token, s.seq.Encoder.Extension()),
		Params:   viewOf(p),
	})
}

func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("export pipeline disabled"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
		return
	}
	p, err := s.formParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no images uploaded"))
		return
	}
	srcs := make([]collection.Source, 0, len(files))
	for _, fh := range files {
		src, err := readPart(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		srcs = append(srcs, src)
	}

	id := pipeline.NewJobID()
	job := pipeline.Job{
		ID:      id,
		Sources: srcs,
		Params:  p,
		Output:  filepath.Join(s.exportDir, id+".zip"),
	}
	if err := s.pipeline.Submit(job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	w.Header().Set("Location", "/api/exports/"+id)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     id,
		"status": storage.StatusQueued,
		"images": len(srcs),
	})
}

func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	recs, err := s.store.RecentExports(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []storage.ExportRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) lookupExport(w http.ResponseWriter, r *http.Request) (storage.ExportRecord, bool) {
	rec, err := s.store.ExportJob(mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return rec, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return rec, false
	}
	return rec, true
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if rec, ok := s.lookupExport(w, r); ok {
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupExport(w, r)
	if !ok {
		return
	}
	if rec.Status != storage.StatusCompleted || rec.ArchivePath == "" {
		writeError(w, http.StatusConflict, fmt.Errorf("export %s is %s", rec.ID, rec.Status))
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.archiveName))
	http.ServeFile(w, r, rec.ArchivePath)
}
