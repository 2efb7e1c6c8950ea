package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Device is an open camera producing JPEG frames.
type Device interface {
	// Latest returns the most recent frame, if any has arrived yet.
	Latest() ([]byte, bool)
	// Subscribe delivers new frames until cancel is called or the device closes.
	Subscribe() (<-chan []byte, func())
	// Done is closed when the device stops, whether closed or failed.
	Done() <-chan struct{}
	// Err is why a failed device stopped, nil after a plain Close.
	Err() error
	Close() error
}

// Opener opens the camera.
type Opener func(ctx context.Context) (Device, error)

var (
	errRevoked  = errors.New("camera was opened by another session")
	errReleased = errors.New("camera was released")

	// ErrCameraUnavailable is returned once an open camera stops delivering
	// frames, for example when it is unplugged.
	ErrCameraUnavailable = errors.New("camera unavailable")
)

// DeviceManager hands out the camera to one holder at a time. Opening the
// camera while someone else holds it closes their handle first.
type DeviceManager struct {
	open Opener

	mu      sync.Mutex
	current *Handle
}

func NewDeviceManager(open Opener) *DeviceManager {
	return &DeviceManager{open: open}
}

// Open releases any current holder and opens the device for a new one.
func (m *DeviceManager) Open(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		log.Info().Msg("closing previous camera session")
		m.current.revokeLocked(errRevoked)
		m.current = nil
	}

	dev, err := m.open(ctx)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}

	h := &Handle{mgr: m, dev: dev, done: make(chan struct{})}
	m.current = h
	go m.watch(h)
	return h, nil
}

// watch releases the handle when its device dies on its own.
func (m *DeviceManager) watch(h *Handle) {
	select {
	case <-h.done:
		return
	case <-h.dev.Done():
	}

	cause := ErrCameraUnavailable
	if err := h.dev.Err(); err != nil {
		cause = fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h.revokeLocked(cause) {
		log.Warn().Err(cause).Msg("camera stopped")
	}
	if m.current == h {
		m.current = nil
	}
}

// Active reports whether a camera session is open.
func (m *DeviceManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

func (m *DeviceManager) release(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.revokeLocked(errReleased)
	if m.current == h {
		m.current = nil
	}
}

// Handle is one holder's access to the camera.
type Handle struct {
	mgr *DeviceManager
	dev Device

	once sync.Once
	done chan struct{}
	err  error // guarded by mgr.mu
}

// Latest returns the newest frame. It fails once the handle is closed.
func (h *Handle) Latest() ([]byte, error) {
	if err := h.Err(); err != nil {
		return nil, err
	}
	frame, ok := h.dev.Latest()
	if !ok {
		return nil, &DeviceError{Op: "read", Err: errors.New("no frame received yet")}
	}
	return frame, nil
}

// Frames subscribes to live frames. The channel closes with the handle.
func (h *Handle) Frames() (<-chan []byte, func()) {
	return h.dev.Subscribe()
}

// Err reports why the handle was closed as a DeviceError, or nil while it is
// open.
func (h *Handle) Err() error {
	h.mgr.mu.Lock()
	defer h.mgr.mu.Unlock()
	if h.err == nil {
		return nil
	}
	return &DeviceError{Op: "read", Err: h.err}
}

// Done is closed when the handle is released, taken over or its device dies.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close releases the camera. Safe to call more than once.
func (h *Handle) Close() {
	h.mgr.release(h)
}

// revokeLocked must be called with mgr.mu held. It reports whether this call
// closed the handle.
func (h *Handle) revokeLocked(reason error) bool {
	revoked := false
	h.once.Do(func() {
		revoked = true
		h.err = reason
		close(h.done)
		if err := h.dev.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close camera")
		}
	})
	return revoked
}
