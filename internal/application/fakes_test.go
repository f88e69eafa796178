package application

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"barcode-scanner/internal/domain"
)

// fakeClock records scheduled callbacks; tests fire them explicitly.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// pending returns timers that are neither stopped nor fired.
func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireNext runs the oldest pending timer and returns its delay.
func (c *fakeClock) fireNext(t *testing.T) time.Duration {
	t.Helper()
	c.mu.Lock()
	var next *fakeTimer
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired {
			next = timer
			break
		}
	}
	if next == nil {
		c.mu.Unlock()
		t.Fatal("no pending timer")
	}
	next.fired = true
	c.now = c.now.Add(next.delay)
	c.mu.Unlock()

	next.f()
	return next.delay
}

// fireStale runs a timer even if it was stopped, simulating a callback already in flight.
func (c *fakeClock) fireStale(timer *fakeTimer) {
	c.mu.Lock()
	timer.fired = true
	c.mu.Unlock()
	timer.f()
}

type fakeReader struct {
	mu     sync.Mutex
	img    image.Image
	err    error
	reads  int
	closed bool
}

func (r *fakeReader) Read() (image.Image, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.closed {
		return nil, nil, errors.New("reader closed")
	}
	if r.err != nil {
		return nil, nil, r.err
	}
	return r.img, func() {}, nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakeTrack struct {
	id     string
	reader *fakeReader

	mu      sync.Mutex
	stopped bool
}

func (t *fakeTrack) ID() string { return t.id }

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTrack) CreateReader() (domain.FrameReader, error) {
	return t.reader, nil
}

type fakeStream struct {
	id     string
	tracks []*fakeTrack
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []domain.VideoTrack {
	out := make([]domain.VideoTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) live() bool {
	for _, t := range s.tracks {
		if !t.isStopped() {
			return true
		}
	}
	return false
}

// fakeCamera hands out one stream per OpenCamera call and records
// how many streams were live at the moment of each acquisition.
type fakeCamera struct {
	mu            sync.Mutex
	devices       []domain.MediaDeviceInfo
	unsupported   bool
	openErr       error
	frame         image.Image
	streams       []*fakeStream
	constraints   []domain.VideoConstraints
	liveAtAcquire []int
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{frame: blankFrame(64, 48)}
}

func (c *fakeCamera) EnumerationSupported() bool {
	return !c.unsupported
}

func (c *fakeCamera) ListDevices(ctx context.Context) ([]domain.MediaDeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devices, nil
}

func (c *fakeCamera) OpenCamera(ctx context.Context, constraints domain.VideoConstraints) (domain.MediaStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.constraints = append(c.constraints, constraints)
	if c.openErr != nil {
		return nil, c.openErr
	}

	live := 0
	for _, s := range c.streams {
		if s.live() {
			live++
		}
	}
	c.liveAtAcquire = append(c.liveAtAcquire, live)

	id := fmt.Sprintf("stream-%d", len(c.streams)+1)
	stream := &fakeStream{
		id: id,
		tracks: []*fakeTrack{{
			id:     id + "-video",
			reader: &fakeReader{img: c.frame},
		}},
	}
	c.streams = append(c.streams, stream)
	return stream, nil
}

func (c *fakeCamera) lastStream() *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[len(c.streams)-1]
}

// fakeDecoder returns scripted outcomes in order, repeating the last one.
type fakeDecoder struct {
	mu       sync.Mutex
	outcomes []decodeOutcome
	calls    int
	sizes    []image.Rectangle
}

type decodeOutcome struct {
	result *domain.ScanResult
	err    error
}

func (d *fakeDecoder) Decode(img image.Image) (*domain.ScanResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sizes = append(d.sizes, img.Bounds())
	i := d.calls
	d.calls++
	if len(d.outcomes) == 0 {
		return nil, domain.NewDecodeError(domain.FailureNotFound, errors.New("not found"))
	}
	if i >= len(d.outcomes) {
		i = len(d.outcomes) - 1
	}
	o := d.outcomes[i]
	if o.result != nil {
		copied := *o.result
		return &copied, nil
	}
	return nil, o.err
}

func (d *fakeDecoder) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func notFound() decodeOutcome {
	return decodeOutcome{err: domain.NewDecodeError(domain.FailureNotFound, errors.New("not found"))}
}

func found(text string) decodeOutcome {
	return decodeOutcome{result: &domain.ScanResult{Text: text, Format: "QR_CODE"}}
}

type fakePermissions struct {
	permission domain.Permission
	err        error
}

func (p *fakePermissions) CheckPermission(ctx context.Context) (domain.Permission, error) {
	return p.permission, p.err
}

type recordedPreview struct {
	mu      sync.Mutex
	opts    domain.PreviewOptions
	frames  int
	cleared int
}

func (p *recordedPreview) Configure(opts domain.PreviewOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts
}

func (p *recordedPreview) Present(img image.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++
}

func (p *recordedPreview) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
}

type testLogger struct {
	t *testing.T
}

func (l testLogger) Info(msg string, args ...interface{})  { l.t.Logf("INFO: "+msg, args...) }
func (l testLogger) Warn(msg string, args ...interface{})  { l.t.Logf("WARN: "+msg, args...) }
func (l testLogger) Error(msg string, args ...interface{}) { l.t.Logf("ERROR: "+msg, args...) }
func (l testLogger) Debug(msg string, args ...interface{}) { l.t.Logf("DEBUG: "+msg, args...) }

func blankFrame(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.Gray{Y: 0})
	return img
}

// attemptRecorder collects DecodeCallback invocations.
type attemptRecorder struct {
	mu      sync.Mutex
	results []*domain.ScanResult
	errs    []error
}

func (a *attemptRecorder) callback(result *domain.ScanResult, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, result)
	a.errs = append(a.errs, err)
}

func (a *attemptRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}
