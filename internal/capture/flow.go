// Package capture acquires an image from an uploaded file or the host camera
// and submits it for analysis.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raine/skinanalyze/internal/analysis"
)

// State of a capture flow.
type State int

const (
	Idle State = iota
	FileSelected
	CameraOpen
	Previewing
	Analyzing
	NavigatedToResults
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FileSelected:
		return "file_selected"
	case CameraOpen:
		return "camera_open"
	case Previewing:
		return "previewing"
	case Analyzing:
		return "analyzing"
	case NavigatedToResults:
		return "navigated_to_results"
	default:
		return "unknown"
	}
}

// CaptureQuality is the JPEG quality of a frozen camera frame.
const CaptureQuality = 95

// Analyzer submits a payload. An empty token means anonymous analysis.
type Analyzer interface {
	Analyze(ctx context.Context, token string, img Payload) (analysis.Result, error)
}

// Handoff is what a successful analysis passes on to the results view.
type Handoff struct {
	Result     analysis.Result
	PreviewURL string
}

// View is a read-only snapshot for rendering.
type View struct {
	State      State
	PreviewURL string
	SourceName string
	Size       int
	Err        error
}

// Flow is one client's capture/upload state machine.
type Flow struct {
	devices  *DeviceManager
	analyzer Analyzer

	mu         sync.Mutex
	state      State
	payload    *Payload
	preview    string
	camera     *Handle
	lastErr    error
	lastActive time.Time
}

func NewFlow(devices *DeviceManager, analyzer Analyzer) *Flow {
	return &Flow{
		devices:    devices,
		analyzer:   analyzer,
		lastActive: time.Now(),
	}
}

func (f *Flow) touchLocked() {
	f.lastActive = time.Now()
}

// LastActive returns the time of the last operation on the flow.
func (f *Flow) LastActive() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastActive
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Snapshot returns the current view. A camera handle taken over by another
// flow, or one whose device died, drops this flow back to Idle.
func (f *Flow) Snapshot() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCameraLocked()

	v := View{State: f.state, PreviewURL: f.preview, Err: f.lastErr}
	if f.payload != nil {
		v.SourceName = f.payload.SourceName
		v.Size = len(f.payload.Data)
	}
	return v
}

// SelectFile validates the file and holds it as the pending payload. On error
// the flow keeps its previous state.
func (f *Flow) SelectFile(name, mimeType string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()

	if f.state == Analyzing {
		return ErrBusy
	}

	p, err := NewPayload(name, mimeType, data)
	if err != nil {
		f.lastErr = err
		return err
	}

	f.releaseCameraLocked()
	f.state = FileSelected
	f.setPayloadLocked(p)
	return nil
}

func (f *Flow) setPayloadLocked(p Payload) {
	f.payload = &p
	f.preview = p.DataURL()
	f.lastErr = nil
	f.state = Previewing
}

// OpenCamera acquires the camera, closing whichever session held it before.
func (f *Flow) OpenCamera(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()

	if f.state == Analyzing {
		return ErrBusy
	}
	f.releaseCameraLocked()

	h, err := f.devices.Open(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to open camera")
		f.state = Idle
		f.lastErr = err
		return err
	}

	f.camera = h
	f.payload = nil
	f.preview = ""
	f.lastErr = nil
	f.state = CameraOpen
	return nil
}

// Camera returns the open camera handle, or nil.
func (f *Flow) Camera() *Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCameraLocked()
	return f.camera
}

// Capture freezes the latest camera frame as a JPEG payload and releases the
// camera.
func (f *Flow) Capture() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()
	f.checkCameraLocked()

	if f.state != CameraOpen || f.camera == nil {
		err := &DeviceError{Op: "capture", Err: fmt.Errorf("camera is not open")}
		f.lastErr = err
		return err
	}

	frame, err := f.camera.Latest()
	if err != nil {
		f.lastErr = err
		return err
	}

	data, err := reencodeJPEG(frame, CaptureQuality)
	if err != nil {
		derr := &DeviceError{Op: "capture", Err: err}
		f.lastErr = derr
		return derr
	}

	f.releaseCameraLocked()
	f.setPayloadLocked(Payload{
		Data:       data,
		MimeType:   "image/jpeg",
		SourceName: fmt.Sprintf("capture-%d.jpg", time.Now().Unix()),
	})
	return nil
}

func reencodeJPEG(frame []byte, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// CancelCamera releases the camera and returns to Idle.
func (f *Flow) CancelCamera() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()

	f.releaseCameraLocked()
	if f.state == CameraOpen {
		f.state = Idle
	}
	f.lastErr = nil
}

// Reset drops the payload and any camera session.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()

	if f.state == Analyzing {
		return
	}
	f.releaseCameraLocked()
	f.payload = nil
	f.preview = ""
	f.lastErr = nil
	f.state = Idle
}

// Analyze submits the pending payload. Without a payload it fails with
// ErrNoImage and makes no call. On success the payload is cleared and the
// flow ends in NavigatedToResults. On failure the payload is kept so the
// user can retry.
func (f *Flow) Analyze(ctx context.Context, token string) (Handoff, error) {
	f.mu.Lock()
	f.touchLocked()
	if f.state == Analyzing {
		f.mu.Unlock()
		return Handoff{}, ErrBusy
	}
	if f.payload == nil {
		f.lastErr = ErrNoImage
		f.mu.Unlock()
		return Handoff{}, ErrNoImage
	}
	payload := *f.payload
	preview := f.preview
	f.state = Analyzing
	f.lastErr = nil
	f.mu.Unlock()

	result, err := f.analyzer.Analyze(ctx, token, payload)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()

	if err != nil {
		log.Warn().Err(err).Str("source", payload.SourceName).Msg("analysis failed")
		f.state = Previewing
		f.lastErr = err
		return Handoff{}, err
	}

	f.payload = nil
	f.preview = ""
	f.state = NavigatedToResults
	return Handoff{Result: result, PreviewURL: preview}, nil
}

// Release frees the camera when the user navigates away or the flow goes
// idle. The pending payload is dropped unless an analysis is in flight.
func (f *Flow) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.releaseCameraLocked()
	if f.state == Analyzing {
		return
	}
	f.payload = nil
	f.preview = ""
	f.state = Idle
}

func (f *Flow) releaseCameraLocked() {
	if f.camera != nil {
		f.camera.Close()
		f.camera = nil
	}
}

func (f *Flow) checkCameraLocked() {
	if f.camera == nil {
		return
	}
	select {
	case <-f.camera.Done():
		err := f.camera.Err()
		f.camera = nil
		if f.state == CameraOpen {
			f.state = Idle
			f.lastErr = err
		}
	default:
	}
}

// DismissError clears the last error once it has been shown.
func (f *Flow) DismissError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastErr = nil
}

// RecordError keeps an error from outside the flow, such as an unreadable
// upload, for the next Snapshot.
func (f *Flow) RecordError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()
	f.lastErr = err
}
