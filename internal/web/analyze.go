package web

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"github.com/raine/skinanalyze/internal/analysis"
	"github.com/raine/skinanalyze/internal/capture"
	"github.com/raine/skinanalyze/internal/handoff"
	"github.com/raine/skinanalyze/internal/skinapi"
)

// maxUploadBody bounds the whole multipart request, not just the image.
const maxUploadBody = 4 * capture.MaxImageBytes

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := capture.Message(err); ok {
		return msg
	}
	return skinapi.UserMessage(err)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.flows.Release(clientID(r))
	s.render(w, r, http.StatusOK, "home", s.page(r, "Home", nil))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	flow := s.flows.For(clientID(r))
	view := flow.Snapshot()
	flow.DismissError()

	data := s.page(r, "Analyze", view)
	data.Error = errorMessage(view.Err)
	s.render(w, r, http.StatusOK, "analyze", data)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	flow := s.flows.For(clientID(r))
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)

	file, header, err := r.FormFile("image")
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("upload without a readable image")
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			flow.RecordError(capture.ErrImageTooLarge)
		} else {
			flow.RecordError(capture.ErrInvalidImage)
		}
		http.Redirect(w, r, "/analyze", http.StatusSeeOther)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, capture.MaxImageBytes+1))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to read upload")
		flow.RecordError(capture.ErrInvalidImage)
		http.Redirect(w, r, "/analyze", http.StatusSeeOther)
		return
	}

	if err := flow.SelectFile(header.Filename, header.Header.Get("Content-Type"), data); err != nil {
		hlog.FromRequest(r).Info().Err(err).Str("file", header.Filename).Msg("rejected upload")
	}
	http.Redirect(w, r, "/analyze", http.StatusSeeOther)
}

func (s *Server) handleOpenCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.flows.For(clientID(r)).OpenCamera(r.Context()); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("camera unavailable")
	}
	http.Redirect(w, r, "/analyze", http.StatusSeeOther)
}

// handleCameraStream serves live frames as an MJPEG multipart stream until
// the camera closes or the client goes away.
func (s *Server) handleCameraStream(w http.ResponseWriter, r *http.Request) {
	cam := s.flows.For(clientID(r)).Camera()
	if cam == nil {
		http.Error(w, "camera is not open", http.StatusNotFound)
		return
	}

	frames, cancel := cam.Frames()
	defer cancel()

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-cam.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {strconv.Itoa(len(frame))},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(frame); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if err := s.flows.For(clientID(r)).Capture(); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("capture failed")
	}
	http.Redirect(w, r, "/analyze", http.StatusSeeOther)
}

func (s *Server) handleCancelCamera(w http.ResponseWriter, r *http.Request) {
	s.flows.For(clientID(r)).CancelCamera()
	http.Redirect(w, r, "/analyze", http.StatusSeeOther)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.flows.For(clientID(r)).Reset()
	http.Redirect(w, r, "/analyze", http.StatusSeeOther)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := clientID(r)
	sess := s.sessions.Get(id)

	h, err := s.flows.For(id).Analyze(r.Context(), sess.Token)
	if err != nil {
		http.Redirect(w, r, "/analyze", http.StatusSeeOther)
		return
	}

	s.handoffs.Put(id, handoff.Entry{Result: h.Result, ImageRef: h.PreviewURL})
	http.Redirect(w, r, "/results", http.StatusSeeOther)
}

type resultsView struct {
	Result     analysis.Result
	Tier       analysis.Tier
	Detections []analysis.Detection
	// ImageURL is an image served by the API. PreviewURL is the local
	// preview of a fresh upload, used when the API returned no image.
	ImageURL    string
	PreviewURL  string
	FromHistory bool
}

func newResultsView(entry handoff.Entry, resolve func(string) string) resultsView {
	view := resultsView{
		Result:      entry.Result,
		Tier:        entry.Result.Tier(),
		Detections:  entry.Result.MergedDetections(),
		FromHistory: entry.FromHistory,
	}
	switch {
	case entry.Result.AnnotatedImageRef != "":
		view.ImageURL = resolve(entry.Result.AnnotatedImageRef)
	case entry.FromHistory:
		view.ImageURL = resolve(entry.ImageRef)
	default:
		view.PreviewURL = entry.ImageRef
	}
	return view
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id := clientID(r)
	s.flows.Release(id)

	entry, ok := s.handoffs.Take(id)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	view := newResultsView(entry, s.api.ImageURL)

	w.Header().Set("Cache-Control", "no-store")
	s.render(w, r, http.StatusOK, "results", s.page(r, "Results", view))
}
