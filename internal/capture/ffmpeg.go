package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// FirstFrameTimeout bounds how long opening the camera waits for ffmpeg to
// deliver a frame.
var FirstFrameTimeout = 5 * time.Second

// FFmpegOpener returns an Opener that streams MJPEG from the given camera
// device through an ffmpeg subprocess. Open succeeds only once the first frame
// has arrived; a missing or busy camera fails with ffmpeg's own error output.
func FFmpegOpener(deviceID string) Opener {
	return func(ctx context.Context) (Device, error) {
		args, err := ffmpegArgs(runtime.GOOS, deviceID)
		if err != nil {
			return nil, err
		}

		// The process outlives the request that opened it.
		procCtx, cancel := context.WithCancel(context.Background())
		cmd := exec.CommandContext(procCtx, "ffmpeg", args...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
		}
		if err := cmd.Start(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
		}

		wait := func() error {
			err := cmd.Wait()
			if procCtx.Err() != nil {
				// Stopped by Close
				return nil
			}
			msg := strings.TrimSpace(stderr.String())
			switch {
			case err != nil && msg != "":
				return fmt.Errorf("ffmpeg: %s: %w", msg, err)
			case err != nil:
				return fmt.Errorf("ffmpeg: %w", err)
			case msg != "":
				return fmt.Errorf("ffmpeg: %s", msg)
			default:
				return errors.New("ffmpeg: stream ended")
			}
		}

		dev := newStreamDevice(cancel)
		go dev.run(stdout, wait)

		timer := time.NewTimer(FirstFrameTimeout)
		defer timer.Stop()

		select {
		case <-dev.firstFrame:
			log.Info().Str("device", deviceID).Int("pid", cmd.Process.Pid).Msg("camera opened")
			return dev, nil
		case <-dev.Done():
			err := dev.Err()
			if err == nil {
				err = errors.New("camera stream ended before the first frame")
			}
			return nil, err
		case <-timer.C:
			dev.Close()
			return nil, fmt.Errorf("no frame from camera within %s", FirstFrameTimeout)
		case <-ctx.Done():
			dev.Close()
			return nil, ctx.Err()
		}
	}
}

func ffmpegArgs(goos, deviceID string) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-video_size", "640x480", "-framerate", "30", "-i", deviceID}
	case "linux":
		input = []string{"-f", "v4l2", "-video_size", "640x480", "-i", "/dev/video" + deviceID}
	case "windows":
		input = []string{"-f", "dshow", "-video_size", "640x480", "-i", "video=" + deviceID}
	default:
		return nil, fmt.Errorf("unsupported operating system: %s", goos)
	}
	output := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "2", "-"}
	args := append([]string{"-loglevel", "error"}, input...)
	return append(args, output...), nil
}

// streamDevice splits a stream of concatenated JPEGs into frames.
type streamDevice struct {
	stop func()

	mu          sync.Mutex
	latest      []byte
	subscribers map[int]chan []byte
	nextID      int
	closed      bool
	err         error

	firstFrame chan struct{}
	done       chan struct{}
}

func newStreamDevice(stop func()) *streamDevice {
	return &streamDevice{
		stop:        stop,
		subscribers: make(map[int]chan []byte),
		firstFrame:  make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// run reads frames until the stream ends, then closes the device with the
// error wait reports. wait may be nil.
func (d *streamDevice) run(r io.Reader, wait func() error) {
	d.readFrames(r)
	var err error
	if wait != nil {
		err = wait()
	}
	d.closeWith(err)
}

func (d *streamDevice) readFrames(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), MaxImageBytes)
	scanner.Split(splitJPEG)
	for scanner.Scan() {
		frame := bytes.Clone(scanner.Bytes())
		d.publish(frame)
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("camera stream ended")
	}
}

// splitJPEG is a bufio.SplitFunc yielding one SOI..EOI frame per token.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegStart)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF in case it starts the next marker.
		if n := len(data); n > 1 {
			return n - 1, nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEnd)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

func (d *streamDevice) publish(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.latest == nil {
		close(d.firstFrame)
	}
	d.latest = frame
	for _, ch := range d.subscribers {
		select {
		case ch <- frame:
		default:
			// Slow reader: drop the stale frame and offer the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}

func (d *streamDevice) Latest() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest, d.latest != nil
}

func (d *streamDevice) Subscribe() (<-chan []byte, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan []byte, 1)
	if d.closed {
		close(ch)
		return ch, func() {}
	}
	id := d.nextID
	d.nextID++
	d.subscribers[id] = ch

	return ch, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if sub, ok := d.subscribers[id]; ok {
			delete(d.subscribers, id)
			close(sub)
		}
	}
}

// Done is closed when the stream ends or the device is closed.
func (d *streamDevice) Done() <-chan struct{} {
	return d.done
}

// Err is why the stream ended, or nil if it was closed on purpose.
func (d *streamDevice) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *streamDevice) Close() error {
	d.closeWith(nil)
	return nil
}

func (d *streamDevice) closeWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.err = err
	close(d.done)
	for id, ch := range d.subscribers {
		delete(d.subscribers, id)
		close(ch)
	}
	if d.stop != nil {
		d.stop()
	}
}
