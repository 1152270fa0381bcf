// Package resample converts interleaved PCM between the device rate and the
// stream rate when the hardware cannot open at the stream rate directly.
package resample

import (
	"errors"
	"fmt"

	"github.com/dh1tw/gosamplerate"

	"github.com/Sarowar6362/streamer56/internal/audio/convert"
)

var ErrClosed = errors.New("resampler closed")

// Resampler is a streaming libsamplerate converter. It keeps filter state
// between calls, so one instance serves one direction of one stream.
type Resampler struct {
	src      *gosamplerate.Src
	ratio    float64
	channels int
	chunk    int
	in       []float32
	out      []int16
}

// New prepares a converter from rate `from` to rate `to`. maxFrames bounds the
// number of frames handed to a single Process call.
func New(from, to uint32, channels, maxFrames int) (*Resampler, error) {
	if from == 0 || to == 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", from, to)
	}
	if channels <= 0 || maxFrames <= 0 {
		return nil, fmt.Errorf("invalid resample shape: %d channels, %d frames", channels, maxFrames)
	}
	ratio := float64(to) / float64(from)
	// room for the largest output a single call can produce
	bufLen := int(float64(maxFrames*channels)*ratio) + 16*channels
	src, err := gosamplerate.New(gosamplerate.SRC_SINC_FASTEST, channels, bufLen)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	return &Resampler{
		src:      &src,
		ratio:    ratio,
		channels: channels,
		chunk:    maxFrames * channels,
		in:       make([]float32, 0, maxFrames*channels),
	}, nil
}

// Process converts a block of interleaved samples. The output length varies
// from call to call; libsamplerate holds back a few frames of history at the
// start of the stream. The returned slice is reused by the next call.
func (r *Resampler) Process(pcm []int16) ([]int16, error) {
	if r.src == nil {
		return nil, ErrClosed
	}
	r.out = r.out[:0]
	for len(pcm) > 0 {
		n := min(len(pcm), r.chunk)
		r.in = r.in[:n]
		convert.Int16ToFloat32Into(r.in, pcm[:n])
		out, err := r.src.Process(r.in, r.ratio, false)
		if err != nil {
			return nil, fmt.Errorf("resample: %w", err)
		}
		r.out = append(r.out, convert.Float32ToInt16(out)...)
		pcm = pcm[n:]
	}
	return r.out, nil
}

func (r *Resampler) Ratio() float64 {
	return r.ratio
}

func (r *Resampler) Close() error {
	if r.src == nil {
		return nil
	}
	err := gosamplerate.Delete(*r.src)
	r.src = nil
	return err
}
