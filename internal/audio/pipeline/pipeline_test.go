package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sarowar6362/streamer56/internal/audio/config"
	"github.com/Sarowar6362/streamer56/internal/audio/decoder"
	"github.com/Sarowar6362/streamer56/internal/observe"
)

type senderParts struct {
	log *closeLog
	src *frameSource
	enc *tagEncoder
	out *packetRecorder
}

func newSenderParts(frames int) senderParts {
	l := &closeLog{}
	return senderParts{
		log: l,
		src: &frameSource{closer: newCloser("capture", l), frames: frames},
		enc: &tagEncoder{closer: newCloser("encoder", l)},
		out: &packetRecorder{closer: newCloser("socket", l)},
	}
}

func (p senderParts) sender(t *testing.T, opts ...Option) *Sender {
	t.Helper()
	s, err := NewSender(config.NewOpusConfig(), p.src, p.enc, p.out, opts...)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	return s
}

type receiverParts struct {
	log  *closeLog
	in   *packetQueue
	dec  *tagDecoder
	sink *frameRecorder
}

func newReceiverParts() receiverParts {
	l := &closeLog{}
	return receiverParts{
		log:  l,
		in:   newPacketQueue(l),
		dec:  &tagDecoder{closer: newCloser("decoder", l)},
		sink: newFrameRecorder(l),
	}
}

func (p receiverParts) receiver(t *testing.T, cfg config.AudioConfig, opts ...Option) *Receiver {
	t.Helper()
	r, err := NewReceiver(cfg, p.in, p.dec, p.sink, opts...)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	return r
}

var peerAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func releasedOnceEach(t *testing.T, l *closeLog, want ...string) {
	t.Helper()
	got := l.names()
	slices.Sort(got)
	slices.Sort(want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("release counts mismatch (-want +got):\n%s", diff)
	}
}

func TestSenderSendsFramesInOrder(t *testing.T) {
	for _, pipelined := range []bool{false, true} {
		name := "sequential"
		if pipelined {
			name = "pipelined"
		}
		t.Run(name, func(t *testing.T) {
			parts := newSenderParts(40)
			var logs bytes.Buffer
			logger := zerolog.New(&logs).Level(zerolog.DebugLevel)
			s := parts.sender(t, WithPipelined(pipelined), WithLogger(logger), WithStatsEvery(10))

			if err := s.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if diff := cmp.Diff(sequence(40), parts.out.tags()); diff != "" {
				t.Errorf("packet order mismatch (-want +got):\n%s", diff)
			}
			if s.Frames() != 40 {
				t.Errorf("Frames() = %d, want 40", s.Frames())
			}
			if diff := cmp.Diff([]string{"encoder", "socket", "capture"}, parts.log.names()); diff != "" {
				t.Errorf("release order mismatch (-want +got):\n%s", diff)
			}
			if n := bytes.Count(logs.Bytes(), []byte("Sender stats")); n != 4 {
				t.Errorf("logged %d stat lines, want 4", n)
			}
		})
	}
}

func TestSenderFailureAtEachStage(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(senderParts)
		stage Stage
		kind  Kind
		sent  int
	}{
		{"capture", func(p senderParts) { p.src.failAt, p.src.err = 3, boom }, StageCapture, KindDevice, 3},
		{"encode", func(p senderParts) { p.enc.failAt, p.enc.err = 3, boom }, StageEncode, KindCodec, 3},
		{"send", func(p senderParts) { p.out.failAt, p.out.err = 3, boom }, StageSend, KindTransport, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parts := newSenderParts(10)
			tc.setup(parts)
			err := parts.sender(t).Run(context.Background())

			var stageErr *Error
			if !errors.As(err, &stageErr) {
				t.Fatalf("Run error = %v, want *Error", err)
			}
			if stageErr.Stage != tc.stage || stageErr.Kind != tc.kind {
				t.Errorf("got stage %s kind %s, want %s %s", stageErr.Stage, stageErr.Kind, tc.stage, tc.kind)
			}
			if !errors.Is(err, boom) {
				t.Errorf("underlying error lost: %v", err)
			}
			if got := len(parts.out.tags()); got != tc.sent {
				t.Errorf("sent %d packets before failing, want %d", got, tc.sent)
			}
			if diff := cmp.Diff([]string{"encoder", "socket", "capture"}, parts.log.names()); diff != "" {
				t.Errorf("release order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSenderPipelinedFailureReleasesOnce(t *testing.T) {
	boom := errors.New("network unreachable")
	parts := newSenderParts(100)
	parts.out.failAt, parts.out.err = 5, boom

	err := parts.sender(t, WithPipelined(true)).Run(context.Background())
	var stageErr *Error
	if !errors.As(err, &stageErr) || stageErr.Stage != StageSend {
		t.Fatalf("Run error = %v, want send stage error", err)
	}
	if diff := cmp.Diff(sequence(5), parts.out.tags()); diff != "" {
		t.Errorf("packets before failure (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"encoder", "socket", "capture"}, parts.log.names()); diff != "" {
		t.Errorf("release order mismatch (-want +got):\n%s", diff)
	}
}

func TestSenderPipelinedReleaseOrderAtEachStage(t *testing.T) {
	boom := errors.New("stage failed")
	tests := []struct {
		name  string
		stage Stage
		fail  func(senderParts)
	}{
		{"capture", StageCapture, func(p senderParts) { p.src.failAt, p.src.err = 3, boom }},
		{"encode", StageEncode, func(p senderParts) { p.enc.failAt, p.enc.err = 3, boom }},
		{"send", StageSend, func(p senderParts) { p.out.failAt, p.out.err = 3, boom }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parts := newSenderParts(50)
			tc.fail(parts)

			err := parts.sender(t, WithPipelined(true)).Run(context.Background())
			var stageErr *Error
			if !errors.As(err, &stageErr) || stageErr.Stage != tc.stage {
				t.Fatalf("Run error = %v, want %s stage error", err, tc.stage)
			}
			if diff := cmp.Diff([]string{"encoder", "socket", "capture"}, parts.log.names()); diff != "" {
				t.Errorf("release order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSenderJoinsReleaseErrors(t *testing.T) {
	closeErr := errors.New("encoder teardown failed")
	parts := newSenderParts(10)
	parts.src.failAt, parts.src.err = 2, errors.New("device unplugged")
	parts.enc.closeErr = closeErr

	err := parts.sender(t).Run(context.Background())
	var stageErr *Error
	if !errors.As(err, &stageErr) || stageErr.Stage != StageCapture {
		t.Errorf("Run error = %v, want capture stage error", err)
	}
	if !errors.Is(err, closeErr) {
		t.Errorf("Run error = %v, want release error joined", err)
	}
	if diff := cmp.Diff([]string{"encoder", "socket", "capture"}, parts.log.names()); diff != "" {
		t.Errorf("release order mismatch (-want +got):\n%s", diff)
	}
}

func TestSenderCancelInterruptsBlockedCapture(t *testing.T) {
	for _, pipelined := range []bool{false, true} {
		parts := newSenderParts(3)
		parts.src.block = true
		s := parts.sender(t, WithPipelined(pipelined))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		waitFor(t, "three packets", func() bool { return len(parts.out.tags()) == 3 })
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("pipelined=%v: Run after cancel = %v, want nil", pipelined, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("pipelined=%v: Run did not return after cancel", pipelined)
		}
		releasedOnceEach(t, parts.log, "encoder", "socket", "capture")
	}
}

func TestSenderRunsOnce(t *testing.T) {
	s := newSenderParts(0).sender(t)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run = %v, want ErrAlreadyRun", err)
	}
}

func TestNewSenderRejectsBadInput(t *testing.T) {
	parts := newSenderParts(1)
	cfg := config.NewOpusConfig()
	cfg.FramesPerBuffer = 1000
	if _, err := NewSender(cfg, parts.src, parts.enc, parts.out); err == nil {
		t.Error("NewSender accepted an invalid frame size")
	}
	if _, err := NewSender(config.NewOpusConfig(), nil, parts.enc, parts.out); err == nil {
		t.Error("NewSender accepted a nil source")
	}
}

func TestSenderRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	parts := newSenderParts(12)
	if err := parts.sender(t, WithMetrics(m)).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var sent int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "streamer.frames" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				if v, _ := dp.Attributes.Value(attribute.Key("stage")); v.AsString() == "send" {
					sent = dp.Value
				}
			}
		}
	}
	if sent != 12 {
		t.Errorf("send frames metric = %d, want 12", sent)
	}
}

func TestReceiverPlaysFramesInOrder(t *testing.T) {
	parts := newReceiverParts()
	r := parts.receiver(t, config.NewOpusConfig())
	for i := 0; i < 30; i++ {
		parts.in.push([]byte{byte(i), 0xfc}, peerAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitFor(t, "30 played frames", func() bool { return parts.sink.count() == 30 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run after cancel = %v, want nil", err)
	}
	if diff := cmp.Diff(sequence(30), parts.sink.tags()); diff != "" {
		t.Errorf("playback order mismatch (-want +got):\n%s", diff)
	}
	releasedOnceEach(t, parts.log, "decoder", "playback", "socket")
}

type paddingSink struct {
	*frameRecorder
}

func (paddingSink) Underruns() uint64 { return 7 }

func TestReceiverStatsReportSinkUnderruns(t *testing.T) {
	parts := newReceiverParts()
	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.DebugLevel)
	r, err := NewReceiver(config.NewOpusConfig(), parts.in, parts.dec, paddingSink{parts.sink},
		WithLogger(logger), WithStatsEvery(2))
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	for i := 0; i < 4; i++ {
		parts.in.push([]byte{byte(i), 0xfc}, peerAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	waitFor(t, "4 played frames", func() bool { return parts.sink.count() == 4 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run after cancel = %v, want nil", err)
	}
	if got := bytes.Count(logs.Bytes(), []byte(`"underruns":7`)); got != 2 {
		t.Errorf("stat lines with underruns = %d, want 2\n%s", got, logs.String())
	}
}

func TestReceiverFailureAtEachStage(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		setup  func(receiverParts)
		stage  Stage
		kind   Kind
		played int
	}{
		{"receive", func(p receiverParts) {
			p.in.push([]byte{0}, peerAddr)
			p.in.push([]byte{1}, peerAddr)
			p.in.ch <- datagram{err: boom}
		}, StageReceive, KindTransport, 2},
		{"decode", func(p receiverParts) {
			p.dec.failAt, p.dec.err = 2, boom
			for i := 0; i < 5; i++ {
				p.in.push([]byte{byte(i)}, peerAddr)
			}
		}, StageDecode, KindCodec, 2},
		{"play", func(p receiverParts) {
			p.sink.failAt, p.sink.err = 2, boom
			for i := 0; i < 5; i++ {
				p.in.push([]byte{byte(i)}, peerAddr)
			}
		}, StagePlay, KindDevice, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parts := newReceiverParts()
			tc.setup(parts)
			err := parts.receiver(t, config.NewOpusConfig()).Run(context.Background())

			var stageErr *Error
			if !errors.As(err, &stageErr) {
				t.Fatalf("Run error = %v, want *Error", err)
			}
			if stageErr.Stage != tc.stage || stageErr.Kind != tc.kind {
				t.Errorf("got stage %s kind %s, want %s %s", stageErr.Stage, stageErr.Kind, tc.stage, tc.kind)
			}
			if !errors.Is(err, boom) {
				t.Errorf("underlying error lost: %v", err)
			}
			if got := parts.sink.count(); got != tc.played {
				t.Errorf("played %d frames, want %d", got, tc.played)
			}
			if diff := cmp.Diff([]string{"decoder", "playback", "socket"}, parts.log.names()); diff != "" {
				t.Errorf("release order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReceiverRejectsOversizedPacket(t *testing.T) {
	cfg := config.NewOpusConfig()
	cfg.MaxPacketSize = 64
	parts := newReceiverParts()
	parts.in.push(make([]byte, 65), peerAddr)

	err := parts.receiver(t, cfg).Run(context.Background())
	var stageErr *Error
	if !errors.As(err, &stageErr) || stageErr.Stage != StageDecode {
		t.Fatalf("Run error = %v, want decode stage error", err)
	}
	if !errors.Is(err, decoder.ErrPacketTooLarge) {
		t.Errorf("Run error = %v, want ErrPacketTooLarge", err)
	}
	if parts.dec.calls != 0 {
		t.Errorf("decoder saw %d oversized packets", parts.dec.calls)
	}
}

func TestReceiverPeerFilter(t *testing.T) {
	parts := newReceiverParts()
	r := parts.receiver(t, config.NewOpusConfig(), WithPeer(netip.MustParseAddrPort("127.0.0.1:5000")))

	intruder := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6000}
	parts.in.push([]byte{1}, peerAddr)
	parts.in.push([]byte{2}, intruder)
	parts.in.push([]byte{3}, peerAddr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	waitFor(t, "two played frames", func() bool { return parts.sink.count() == 2 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]int{1, 3}, parts.sink.tags()); diff != "" {
		t.Errorf("played frames (-want +got):\n%s", diff)
	}
	if r.Rejected() != 1 {
		t.Errorf("Rejected() = %d, want 1", r.Rejected())
	}
}

func TestErrorFormatting(t *testing.T) {
	err := NewError(StageSend, net.ErrClosed)
	if err.Kind != KindTransport {
		t.Errorf("send kind = %s", err.Kind)
	}
	want := "send failed (transport error): use of closed network connection"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
