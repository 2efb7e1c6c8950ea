package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/raine/skinanalyze/config"
	"github.com/raine/skinanalyze/internal/capture"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <output.jpg> [device]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nDevice defaults to CAMERA_DEVICE or %q.\n", config.DefaultCameraDevice)
		os.Exit(1)
	}

	config.LoadEnvFile()

	outPath := os.Args[1]
	device := os.Getenv("CAMERA_DEVICE")
	if len(os.Args) >= 3 {
		device = os.Args[2]
	}
	if device == "" {
		device = config.DefaultCameraDevice
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	devices := capture.NewDeviceManager(capture.FFmpegOpener(device))
	handle, err := devices.Open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open camera %s: %v\n", device, err)
		os.Exit(1)
	}
	defer handle.Close()

	frames, stop := handle.Frames()
	defer stop()

	// The first frames of many webcams are dark while exposure settles
	var frame []byte
warmup:
	for i := 0; i < 10; i++ {
		select {
		case f, ok := <-frames:
			if !ok {
				fmt.Fprintln(os.Stderr, "Camera closed before producing a frame")
				os.Exit(1)
			}
			frame = f
		case <-ctx.Done():
			if frame == nil {
				fmt.Fprintln(os.Stderr, "Timed out waiting for a frame")
				os.Exit(1)
			}
			break warmup
		}
	}

	if _, err := capture.NewPayload(outPath, "image/jpeg", frame); err != nil {
		fmt.Fprintf(os.Stderr, "Camera produced an unreadable frame: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, frame, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", outPath, err)
		os.Exit(1)
	}
	fmt.Printf("Saved %s (%s)\n", outPath, humanize.Bytes(uint64(len(frame))))
}
