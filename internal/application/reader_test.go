package application

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"barcode-scanner/internal/domain"
)

func newTestReader(t *testing.T, decoder *fakeDecoder, opts ReaderOptions) (*CodeReader, *fakeCamera, *fakeClock) {
	t.Helper()
	camera := newFakeCamera()
	clock := newFakeClock()
	reader := NewCodeReader(camera, decoder, clock, testLogger{t}, opts)
	return reader, camera, clock
}

func TestCodeReader_DefaultOptions(t *testing.T) {
	opts := DefaultReaderOptions()
	if opts.Delay != 500*time.Millisecond {
		t.Errorf("default delay = %v, want 500ms", opts.Delay)
	}
	if !opts.RetryIfNotFound || !opts.RetryIfChecksumOrFormatError {
		t.Error("retries should be enabled by default")
	}
	if opts.ContinueAfterSuccess {
		t.Error("bare reader should not reschedule after success by default")
	}
}

func TestCodeReader_AcquisitionConstraints(t *testing.T) {
	reader, camera, _ := newTestReader(t, &fakeDecoder{}, DefaultReaderOptions())
	rec := &attemptRecorder{}

	if err := reader.DecodeFromInputVideoDevice(context.Background(), rec.callback, ""); err != nil {
		t.Fatalf("DecodeFromInputVideoDevice() error = %v", err)
	}
	if err := reader.DecodeFromInputVideoDevice(context.Background(), rec.callback, "cam-2"); err != nil {
		t.Fatalf("DecodeFromInputVideoDevice() error = %v", err)
	}

	if len(camera.constraints) != 2 {
		t.Fatalf("expected 2 acquisitions, got %d", len(camera.constraints))
	}
	if !camera.constraints[0].PreferEnvironment || camera.constraints[0].DeviceID != "" {
		t.Errorf("empty device id should prefer environment camera: %+v", camera.constraints[0])
	}
	if camera.constraints[1].PreferEnvironment || camera.constraints[1].DeviceID != "cam-2" {
		t.Errorf("explicit device id should be exact: %+v", camera.constraints[1])
	}
}

func TestCodeReader_AcquisitionFailureIsReturned(t *testing.T) {
	reader, camera, clock := newTestReader(t, &fakeDecoder{}, DefaultReaderOptions())
	camera.openErr = domain.ErrNotAllowed

	err := reader.DecodeFromInputVideoDevice(context.Background(), (&attemptRecorder{}).callback, "cam-1")
	if !errors.Is(err, domain.ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
	if reader.State() != domain.StateIdle {
		t.Errorf("state = %s, want idle", reader.State())
	}
	if len(clock.pending()) != 0 {
		t.Error("failed acquisition must not schedule attempts")
	}
	if len(camera.constraints) != 1 {
		t.Errorf("acquisition must not be retried, got %d attempts", len(camera.constraints))
	}
}

func TestCodeReader_RetriesNotFoundIndefinitely(t *testing.T) {
	decoder := &fakeDecoder{outcomes: []decodeOutcome{notFound()}}
	opts := DefaultReaderOptions()
	opts.Delay = 750 * time.Millisecond
	reader, _, clock := newTestReader(t, decoder, opts)
	rec := &attemptRecorder{}

	if err := reader.DecodeFromInputVideoDevice(context.Background(), rec.callback, "cam-1"); err != nil {
		t.Fatalf("DecodeFromInputVideoDevice() error = %v", err)
	}
	if reader.State() != domain.StateStreaming {
		t.Fatalf("state = %s, want streaming", reader.State())
	}

	const attempts = 25
	for i := 0; i < attempts; i++ {
		if n := len(clock.pending()); n != 1 {
			t.Fatalf("attempt %d: expected exactly 1 pending attempt, got %d", i, n)
		}
		if delay := clock.fireNext(t); delay != opts.Delay {
			t.Fatalf("attempt %d scheduled after %v, want %v", i, delay, opts.Delay)
		}
	}

	if decoder.callCount() != attempts {
		t.Errorf("decoder called %d times, want %d", decoder.callCount(), attempts)
	}
	if rec.count() != attempts {
		t.Errorf("callback called %d times, want %d", rec.count(), attempts)
	}
	for i, err := range rec.errs {
		if domain.Classify(err) != domain.FailureNotFound {
			t.Fatalf("attempt %d: expected not-found, got %v", i, err)
		}
	}

	reader.Stop()
	if len(clock.pending()) != 0 {
		t.Error("stop must cancel the pending attempt")
	}
}

func TestCodeReader_RetriesChecksumAndFormat(t *testing.T) {
	decoder := &fakeDecoder{outcomes: []decodeOutcome{
		{err: domain.NewDecodeError(domain.FailureChecksum, errors.New("checksum"))},
		{err: domain.NewDecodeError(domain.FailureFormat, errors.New("format"))},
		found("AFTER"),
	}}
	reader, _, clock := newTestReader(t, decoder, DefaultReaderOptions())
	rec := &attemptRecorder{}

	if err := reader.DecodeFromInputVideoDevice(context.Background(), rec.callback, "cam-1"); err != nil {
		t.Fatal(err)
	}

	clock.fireNext(t)
	clock.fireNext(t)
	clock.fireNext(t)

	if rec.count() != 3 {
		t.Fatalf("expected 3 attempts, got %d", rec.count())
	}
	if rec.results[2] == nil || rec.results[2].Text != "AFTER" {
		t.Errorf("third attempt should succeed, got %+v / %v", rec.results[2], rec.errs[2])
	}
	if len(clock.pending()) != 0 {
		t.Error("canonical flow must not reschedule after success")
	}
}

func TestCodeReader_RetryFlagsDisabled(t *testing.T) {
	decoder := &fakeDecoder{outcomes: []decodeOutcome{notFound()}}
	opts := DefaultReaderOptions()
	opts.RetryIfNotFound = false
	reader, _, clock := newTestReader(t, decoder, opts)
	rec := &attemptRecorder{}

	if err := reader.DecodeFromInputVideoDevice(context.Background(), rec.callback, "cam-1"); err != nil {
		t.Fatal(err)
	}
	clock.fireNext(t)

	if rec.count() != 1 {
		t.Fatalf("expected 1 attempt, got %d", rec.count())
	}
	if len(clock.pending()) != 0 {
		t.Error("not-found must not be retried when RetryIfNotFound is off")
	}
}

func TestCodeReader_UnclassifiedErrorStopsRetrying(t *testing.T) {
	boom := errors.New("decoder exploded")
	decoder := &fakeDecoder{outcomes: []decodeOutcome{notFound(), {err: boom}}}
	reader, _, clock := newTestReader(t, decoder, DefaultReaderOptions())
	rec := &attemptRecorder{}

	if err := reader.DecodeFromInputVideoDevice(context.Background(), rec.callback, "cam-1"); err != nil {
		t.Fatal(err)
	}

	clock.fireNext(t)
	clock.fireNext(t)

	if rec.count() != 2 {
		t.Fatalf("expected 2 attempts, got %d", rec.count())
	}
	if !errors.Is(rec.errs[1], boom) {
		t.Errorf("unclassified error should be propagated, got %v", rec.errs[1])
	}
	if len(clock.pending()) != 0 {
		t.Error("unclassified error must not schedule another attempt")
	}
}

func TestCodeReader_FrameReadErrorIsTerminal(t *testing.T) {
	decoder := &fakeDecoder{}
	reader, camera, clock := newTestReader(t, decoder, DefaultReaderOptions())
	rec := &attemptRecorder{}

	if err := reader.DecodeFromInputVideoDevice(context.Background(), rec.callback, "cam-1"); err != nil {
		t.Fatal(err)
	}
	readErr := errors.New("device unplugged")
	camera.lastStream().tracks[0].reader.err = readErr

	clock.fireNext(t)

	if rec.count() != 1 || !errors.Is(rec.errs[0], readErr) {
		t.Fatalf("expected read error in callback, got %v", rec.errs)
	}
	if domain.Classify(rec.errs[0]) != domain.FailureOther {
		t.Error("read error should be unclassified")
	}
	if decoder.callCount() != 0 {
		t.Error("decoder must not run without a frame")
	}
	if len(clock.pending()) != 0 {
		t.Error("read error must not schedule another attempt")
	}
}

func TestCodeReader_ContinueAfterSuccess(t *testing.T) {
	decoder := &fakeDecoder{outcomes: []decodeOutcome{found("ONE"), found("TWO")}}
	opts := DefaultReaderOptions()
	opts.ContinueAfterSuccess = true
	reader, _, clock := newTestReader(t, decoder, opts)
	rec := &attemptRecorder{}

	if err := reader.DecodeFromInputVideoDevice(context.Background(), rec.callback, "cam-1"); err != nil {
		t.Fatal(err)
	}
	clock.fireNext(t)

	if len(clock.pending()) != 1 {
		t.Fatal("continuous scanning should reschedule after success")
	}
	clock.fireNext(t)

	if rec.count() != 2 || rec.results[1].Text != "TWO" {
		t.Fatalf("unexpected attempts: %+v", rec.results)
	}
	if rec.results[0].SessionID != reader.SessionID() {
		t.Error("result should carry the capture session id")
	}
	if rec.results[0].Timestamp.IsZero() {
		t.Error("result should be timestamped")
	}
}

func TestCodeReader_ResetTearsEverythingDown(t *testing.T) {
	preview := &recordedPreview{}
	decoder := &fakeDecoder{outcomes: []decodeOutcome{notFound()}}
	reader, camera, clock := newTestReader(t, decoder, DefaultReaderOptions())
	reader.SetPreview(preview)
	rec := &attemptRecorder{}

	if err := reader.DecodeFromInputVideoDevice(context.Background(), rec.callback, "cam-1"); err != nil {
		t.Fatal(err)
	}
	clock.fireNext(t)

	pending := clock.pending()
	if len(pending) != 1 {
		t.Fatalf("expected a pending retry, got %d", len(pending))
	}
	if reader.surface == nil {
		t.Fatal("capture surface should exist after the first attempt")
	}

	reader.Reset()

	if reader.State() != domain.StateIdle {
		t.Errorf("state = %s, want idle", reader.State())
	}
	if len(clock.pending()) != 0 {
		t.Error("reset must cancel the pending attempt")
	}
	stream := camera.lastStream()
	for _, track := range stream.tracks {
		if !track.isStopped() {
			t.Errorf("track %s still live after reset", track.id)
		}
		if !track.reader.closed {
			t.Errorf("reader of %s still open after reset", track.id)
		}
	}
	if reader.surface != nil || reader.source != nil || reader.stream != nil {
		t.Error("reset must drop surface, source and stream references")
	}
	if preview.cleared == 0 {
		t.Error("reset must clear the preview")
	}

	// A timer callback already in flight must not decode or call back.
	callsBefore := decoder.callCount()
	clock.fireStale(pending[0])
	if decoder.callCount() != callsBefore || rec.count() != 1 {
		t.Error("stale attempt after reset must be a no-op")
	}
}

func TestCodeReader_StopHaltsTracks(t *testing.T) {
	reader, camera, clock := newTestReader(t, &fakeDecoder{}, DefaultReaderOptions())

	if err := reader.DecodeFromInputVideoDevice(context.Background(), (&attemptRecorder{}).callback, "cam-1"); err != nil {
		t.Fatal(err)
	}
	reader.Stop()

	if !camera.lastStream().tracks[0].isStopped() {
		t.Error("stop must halt the stream tracks")
	}
	if len(clock.pending()) != 0 {
		t.Error("stop must cancel the pending attempt")
	}
	if reader.State() != domain.StateIdle {
		t.Errorf("state = %s, want idle", reader.State())
	}
}

func TestCodeReader_SwitchReleasesPreviousStream(t *testing.T) {
	reader, camera, clock := newTestReader(t, &fakeDecoder{}, DefaultReaderOptions())
	rec := &attemptRecorder{}

	for _, id := range []string{"cam-1", "cam-2", "cam-3"} {
		if err := reader.DecodeFromInputVideoDevice(context.Background(), rec.callback, id); err != nil {
			t.Fatalf("DecodeFromInputVideoDevice(%s) error = %v", id, err)
		}
	}

	for i, live := range camera.liveAtAcquire {
		if live != 0 {
			t.Errorf("acquisition %d happened with %d live streams", i, live)
		}
	}
	if len(clock.pending()) != 1 {
		t.Errorf("only the newest session may have a pending attempt, got %d", len(clock.pending()))
	}
	live := 0
	for _, s := range camera.streams {
		if s.live() {
			live++
		}
	}
	if live != 1 {
		t.Errorf("expected exactly 1 live stream, got %d", live)
	}
}

func TestCodeReader_CaptureSurfaceSizedOnce(t *testing.T) {
	decoder := &fakeDecoder{outcomes: []decodeOutcome{notFound()}}
	reader, camera, clock := newTestReader(t, decoder, DefaultReaderOptions())

	if err := reader.DecodeFromInputVideoDevice(context.Background(), (&attemptRecorder{}).callback, "cam-1"); err != nil {
		t.Fatal(err)
	}
	clock.fireNext(t)
	first := reader.surface

	// Camera switches resolution mid-stream; the surface is reused and the frame scaled.
	camera.lastStream().tracks[0].reader.img = blankFrame(128, 96)
	clock.fireNext(t)

	if reader.surface != first {
		t.Error("capture surface should be created once and reused")
	}
	want := image.Rect(0, 0, 64, 48)
	for i, size := range decoder.sizes {
		if size != want {
			t.Errorf("attempt %d decoded %v, want %v", i, size, want)
		}
	}
}

func TestCodeReader_DestroyRejectsNewSessions(t *testing.T) {
	reader, camera, _ := newTestReader(t, &fakeDecoder{}, DefaultReaderOptions())
	reader.Destroy()

	err := reader.DecodeFromInputVideoDevice(context.Background(), (&attemptRecorder{}).callback, "cam-1")
	if !errors.Is(err, domain.ErrDestroyed) {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
	if len(camera.constraints) != 0 {
		t.Error("destroyed reader must not open the camera")
	}
	if reader.State() != domain.StateDestroyed {
		t.Errorf("state = %s, want destroyed", reader.State())
	}
}

func TestCodeReader_DecodeFromImage(t *testing.T) {
	decoder := &fakeDecoder{outcomes: []decodeOutcome{found("STILL")}}
	reader, camera, clock := newTestReader(t, decoder, DefaultReaderOptions())

	result, err := reader.DecodeFromImage(blankFrame(40, 30))
	if err != nil {
		t.Fatalf("DecodeFromImage() error = %v", err)
	}
	if result.Text != "STILL" {
		t.Errorf("text = %q, want STILL", result.Text)
	}
	if decoder.sizes[0] != image.Rect(0, 0, 40, 30) {
		t.Errorf("surface should use natural image size, got %v", decoder.sizes[0])
	}
	if len(camera.constraints) != 0 || len(clock.pending()) != 0 {
		t.Error("still image decode must not touch the camera or schedule retries")
	}
	if reader.surface != nil || reader.source != nil {
		t.Error("still image decode must release its surface")
	}

	decoder.outcomes = []decodeOutcome{notFound()}
	if _, err := reader.DecodeFromImage(blankFrame(40, 30)); domain.Classify(err) != domain.FailureNotFound {
		t.Errorf("expected not-found, got %v", err)
	}
}
