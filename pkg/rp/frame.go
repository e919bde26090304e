package rp

import (
	"encoding/binary"
	"math"
)

// Frame is one decoded, calibrated snapshot from the device. Spectra carry
// the calibration factor; tail scalars are raw device units. A Frame is
// never mutated after ParseFrame returns it.
type Frame struct {
	Cnt      int64
	Spectrum [2][]float64
	PIR      [2]float64
	Q        [2]float64
	I        [2]float64
	Piezo    [2]float64
	Temp     [2]float64
	FreqErr  [2]float64
	BeatFreq [2]float64
}

// DecodeFrame unpacks exactly FrameSizeBytes of little-endian doubles.
// Returns nil if buf is too short.
func DecodeFrame(buf []byte) []float64 {
	if len(buf) < FrameSizeBytes {
		return nil
	}
	raw := make([]float64, FrameSizeDoubles)
	for i := range raw {
		raw[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return raw
}

// EncodeFrame packs a raw frame back into its wire representation.
// Used by the simulator and tests; the device is the normal producer.
func EncodeFrame(raw []float64) []byte {
	buf := make([]byte, 8*len(raw))
	for i, v := range raw {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// ParseFrame extracts a Frame from a raw decoded frame. The second return
// is false when raw is absent or not exactly FrameSizeDoubles long; callers
// must not feed partial data.
func ParseFrame(raw []float64) (*Frame, bool) {
	if len(raw) != FrameSizeDoubles {
		return nil, false
	}
	f := &Frame{
		Cnt:      int64(raw[IdxCounter]),
		PIR:      [2]float64{raw[IdxPIR0], raw[IdxPIR1]},
		Q:        [2]float64{raw[IdxQ0], raw[IdxQ1]},
		I:        [2]float64{raw[IdxI0], raw[IdxI1]},
		Piezo:    [2]float64{raw[IdxPiezo0], raw[IdxPiezo1]},
		Temp:     [2]float64{raw[IdxTemp0], raw[IdxTemp1]},
		FreqErr:  [2]float64{raw[IdxFreqErr0], raw[IdxFreqErr1]},
		BeatFreq: [2]float64{raw[IdxBeatFreq0], raw[IdxBeatFreq1]},
	}
	for ch, start := range [2]int{IdxFFTChan1, IdxFFTChan2} {
		spec := make([]float64, FFTSize)
		for i := 0; i < FFTSize; i++ {
			spec[i] = raw[start+i] * SpectrumCalFactor
		}
		f.Spectrum[ch] = spec
	}
	return f, true
}

// CheckFrameCorruption classifies a decoded frame by a heuristic over the
// two-channel spectral region. Spectrum values are magnitudes, so they are
// non-negative up to numerical noise and bounded in practice; a misaligned
// read reinterprets unrelated bytes (e.g. the tail block) as spectral
// floats and statistically produces many implausible values. Up to 10
// slightly negative bins are tolerated as floating-point noise.
func CheckFrameCorruption(raw []float64) (corrupted bool, negBins int, fftMax float64) {
	end := IdxFFTChan1 + 2*FFTSize
	if end > len(raw) {
		end = len(raw)
	}
	for _, v := range raw[IdxFFTChan1:end] {
		if v < -1e-9 {
			negBins++
		}
		if v > fftMax {
			fftMax = v
		}
	}
	corrupted = negBins > 10 || fftMax > 1e6
	return corrupted, negBins, fftMax
}
