package convert

import (
	"encoding/binary"
)

func Float32ToInt16(src []float32) []int16 {
	dst := make([]int16, len(src))
	Float32ToInt16Into(dst, src)
	return dst
}

// Float32ToInt16Into clamps to [-1, 1] and writes min(len(dst), len(src)) samples.
func Float32ToInt16Into(dst []int16, src []float32) int {
	n := min(len(dst), len(src))
	for i, v := range src[:n] {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[i] = int16(v * 32767)
	}
	return n
}

func Int16ToFloat32(src []int16) []float32 {
	dst := make([]float32, len(src))
	Int16ToFloat32Into(dst, src)
	return dst
}

// Int16ToFloat32Into scales to [-1, 1] and writes min(len(dst), len(src)) samples.
func Int16ToFloat32Into(dst []float32, src []int16) int {
	n := min(len(dst), len(src))
	for i, v := range src[:n] {
		dst[i] = float32(v) / 32767.0
	}
	return n
}

// Int16ToBytes convert int16 sample to byte (Little Endian)
func Int16ToBytes(src []int16) []byte {
	dst := make([]byte, len(src)*2)
	Int16ToBytesInto(dst, src)
	return dst
}

func Int16ToBytesInto(dst []byte, src []int16) int {
	n := min(len(dst)/2, len(src))
	for i, v := range src[:n] {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
	}
	return n * 2
}

// BytesToInt16 decodes little-endian 16-bit samples; a trailing odd byte is ignored.
func BytesToInt16(src []byte) []int16 {
	dst := make([]int16, len(src)/2)
	BytesToInt16Into(dst, src)
	return dst
}

func BytesToInt16Into(dst []int16, src []byte) int {
	n := min(len(dst), len(src)/2)
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
	}
	return n
}
