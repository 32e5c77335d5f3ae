package capture

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Capture errors are fatal to the session; the caller decides whether to
// resolve the underlying condition (permissions, busy device) and retry.
var (
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrDeviceBusy        = errors.New("capture device already started")
)

// Format describes the capture configuration applied to the device.
type Format struct {
	Channels   int
	SampleRate int
	BitRate    int
	Codec      string // audio encoder, e.g. "libopus"
	Container  string // output container, e.g. "ogg"
}

// Device is the hardware capture session. One segment file is written
// between Start and Stop; Release frees the device for other sessions.
type Device interface {
	Open() error
	Configure(f Format) error
	Start(path string) error
	Stop() error
	Release()
}

// FFmpegDevice captures from a system audio input by running ffmpeg per
// segment. Stop asks ffmpeg to finalize the container cleanly so each
// segment is independently playable.
type FFmpegDevice struct {
	inputFormat string // e.g. "alsa", "pulse", "avfoundation"
	inputName   string // e.g. "default"

	mu     sync.Mutex
	format Format
	cmd    *exec.Cmd
	stdin  io.WriteCloser
}

// NewFFmpegDevice returns a device reading from the named system input.
func NewFFmpegDevice(inputFormat, inputName string) *FFmpegDevice {
	return &FFmpegDevice{inputFormat: inputFormat, inputName: inputName}
}

// Open verifies ffmpeg is available. The audio input itself is only grabbed
// on Start; a missing or permission-denied input surfaces there.
func (d *FFmpegDevice) Open() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("%w: ffmpeg not found: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

// Configure stores the capture format used by subsequent Start calls.
func (d *FFmpegDevice) Configure(f Format) error {
	if f.Channels < 1 || f.SampleRate < 1 || f.BitRate < 1 {
		return fmt.Errorf("invalid capture format %+v", f)
	}
	d.mu.Lock()
	d.format = f
	d.mu.Unlock()
	return nil
}

// Start begins writing one segment to path.
func (d *FFmpegDevice) Start(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd != nil {
		return ErrDeviceBusy
	}

	f := d.format
	cmd := exec.Command("ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", d.inputFormat,
		"-i", d.inputName,
		"-ac", strconv.Itoa(f.Channels),
		"-ar", strconv.Itoa(f.SampleRate),
		"-b:a", strconv.Itoa(f.BitRate),
		"-c:a", f.Codec,
		"-f", f.Container,
		"-y",
		path,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	d.cmd = cmd
	d.stdin = stdin
	return nil
}

// Stop finalizes the current segment. ffmpeg flushes and closes the
// container when it reads "q" on stdin; if it does not exit in time the
// process is killed and the segment may be truncated.
func (d *FFmpegDevice) Stop() error {
	d.mu.Lock()
	cmd, stdin := d.cmd, d.stdin
	d.cmd, d.stdin = nil, nil
	d.mu.Unlock()

	if cmd == nil {
		return nil
	}

	io.WriteString(stdin, "q")
	stdin.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("ffmpeg capture exited with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		log.Printf("ffmpeg capture did not exit, killing")
		cmd.Process.Kill()
		<-done
	}
	return nil
}

// Release frees the device. Any running capture is stopped first.
func (d *FFmpegDevice) Release() {
	d.Stop()
}
