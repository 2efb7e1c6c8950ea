package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
)

// MaxImageBytes is the largest image accepted for analysis.
const MaxImageBytes = 10 << 20

var (
	ErrNoImage       = errors.New("please select or capture an image first")
	ErrBusy          = errors.New("analysis already in progress")
	ErrInvalidImage  = errors.New("the selected file is not a supported image")
	ErrImageTooLarge = fmt.Errorf("image is larger than %d MB", MaxImageBytes>>20)
)

// DeviceError is returned when the camera cannot be opened or read.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("camera %s failed", e.Op)
	}
	return fmt.Sprintf("camera %s failed: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Payload is an image waiting to be analyzed.
type Payload struct {
	Data       []byte
	MimeType   string
	SourceName string
}

// NewPayload validates raw file contents. An empty mime type is sniffed from
// the data. The image header must decode as jpeg, png or gif.
func NewPayload(name, mimeType string, data []byte) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, ErrInvalidImage
	}
	if len(data) > MaxImageBytes {
		return Payload{}, ErrImageTooLarge
	}

	sniffed := http.DetectContentType(data)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = sniffed
	}
	if !strings.HasPrefix(mimeType, "image/") || !strings.HasPrefix(sniffed, "image/") {
		return Payload{}, ErrInvalidImage
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	if name == "" {
		name = "image" + extensionFor(mimeType)
	}
	return Payload{Data: data, MimeType: mimeType, SourceName: name}, nil
}

// DataURL renders the payload as a data URL for previews.
func (p Payload) DataURL() string {
	if len(p.Data) == 0 {
		return ""
	}
	return "data:" + p.MimeType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ""
	}
}

// Message returns the text to show a user for errors from this package.
// ok is false for errors that came from elsewhere, such as the analyzer.
func Message(err error) (msg string, ok bool) {
	var derr *DeviceError
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, ErrNoImage):
		return "Please select or capture an image first.", true
	case errors.Is(err, ErrBusy):
		return "Analysis already in progress.", true
	case errors.Is(err, ErrInvalidImage):
		return "Please choose a JPEG, PNG or GIF image.", true
	case errors.Is(err, ErrImageTooLarge):
		return fmt.Sprintf("Image must be %d MB or smaller.", MaxImageBytes>>20), true
	case errors.As(err, &derr):
		if errors.Is(err, errRevoked) {
			return "The camera was opened in another window.", true
		}
		if errors.Is(err, ErrCameraUnavailable) {
			return "The camera stopped responding. Check that it is connected and try again.", true
		}
		return "Could not access the camera. Check that it is connected and not in use.", true
	default:
		return "", false
	}
}
