package rp

import (
	"math"
	"testing"
)

// cleanRaw builds a plausible raw frame: small positive spectra, a known
// counter, and distinct tail scalars.
func cleanRaw() []float64 {
	raw := make([]float64, FrameSizeDoubles)
	raw[IdxCounter] = 42
	for i := IdxFFTChan1; i < IdxFFTChan1+2*FFTSize; i++ {
		raw[i] = 1e-4
	}
	raw[IdxPIR0] = 10e6
	raw[IdxPIR1] = 11e6
	raw[IdxQ0] = 0.1
	raw[IdxQ1] = -0.1
	raw[IdxI0] = 0.5
	raw[IdxI1] = 0.6
	raw[IdxPiezo0] = 0.01
	raw[IdxPiezo1] = 0.02
	raw[IdxTemp0] = 0.03
	raw[IdxTemp1] = 0.04
	raw[IdxFreqErr0] = 1e-7
	raw[IdxFreqErr1] = 2e-7
	raw[IdxBeatFreq0] = 10e6
	raw[IdxBeatFreq1] = 11e6
	return raw
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	raw := cleanRaw()
	got := DecodeFrame(EncodeFrame(raw))
	if got == nil {
		t.Fatal("DecodeFrame returned nil for a full frame")
	}
	for i := range raw {
		if got[i] != raw[i] {
			t.Fatalf("double %d = %v, want %v", i, got[i], raw[i])
		}
	}
}

func TestDecodeFrameShortBuffer(t *testing.T) {
	if DecodeFrame(make([]byte, FrameSizeBytes-1)) != nil {
		t.Error("DecodeFrame accepted a short buffer")
	}
}

func TestParseFrameLengthGuard(t *testing.T) {
	for _, n := range []int{0, 1041, 1043} {
		if _, ok := ParseFrame(make([]float64, n)); ok {
			t.Errorf("ParseFrame accepted length %d", n)
		}
	}
	if _, ok := ParseFrame(nil); ok {
		t.Error("ParseFrame accepted nil")
	}
}

func TestParseFrameFields(t *testing.T) {
	raw := cleanRaw()
	f, ok := ParseFrame(raw)
	if !ok {
		t.Fatal("ParseFrame rejected a valid frame")
	}
	if f.Cnt != 42 {
		t.Errorf("Cnt = %d, want 42", f.Cnt)
	}
	// Calibration must be exact multiplication, no extra arithmetic.
	want := raw[IdxFFTChan1] * SpectrumCalFactor
	if f.Spectrum[0][0] != want {
		t.Errorf("Spectrum[0][0] = %v, want %v", f.Spectrum[0][0], want)
	}
	if f.Spectrum[1][FFTSize-1] != raw[IdxFFTChan2+FFTSize-1]*SpectrumCalFactor {
		t.Error("channel 2 spectrum miscalibrated")
	}
	if f.PIR != [2]float64{10e6, 11e6} {
		t.Errorf("PIR = %v", f.PIR)
	}
	if f.BeatFreq != [2]float64{10e6, 11e6} {
		t.Errorf("BeatFreq = %v", f.BeatFreq)
	}
	if f.FreqErr != [2]float64{1e-7, 2e-7} {
		t.Errorf("FreqErr = %v", f.FreqErr)
	}
}

func TestCheckFrameCorruptionClean(t *testing.T) {
	raw := cleanRaw()
	// Up to 10 slightly negative bins are numerical noise, not corruption.
	for i := 0; i < 10; i++ {
		raw[IdxFFTChan1+i] = -1e-6
	}
	corrupted, negBins, _ := CheckFrameCorruption(raw)
	if corrupted {
		t.Errorf("clean frame flagged corrupted (neg_bins=%d)", negBins)
	}
	if negBins != 10 {
		t.Errorf("neg_bins = %d, want 10", negBins)
	}
}

func TestCheckFrameCorruptionNegativeBins(t *testing.T) {
	raw := cleanRaw()
	for i := 0; i < 11; i++ {
		raw[IdxFFTChan1+i] = -1e-6
	}
	if corrupted, _, _ := CheckFrameCorruption(raw); !corrupted {
		t.Error("11 negative bins not flagged")
	}
}

func TestCheckFrameCorruptionHugeMagnitude(t *testing.T) {
	raw := cleanRaw()
	raw[IdxFFTChan2+100] = 1e7
	corrupted, _, fftMax := CheckFrameCorruption(raw)
	if !corrupted {
		t.Error("1e7 spectral value not flagged")
	}
	if fftMax != 1e7 {
		t.Errorf("fft_max = %v, want 1e7", fftMax)
	}
}

func TestCheckFrameCorruptionIgnoresTail(t *testing.T) {
	// Tail scalars routinely exceed 1e6 (beat frequencies in the tens of
	// MHz); they must not trip the spectral heuristic.
	raw := cleanRaw()
	raw[IdxBeatFreq0] = 80e6
	if corrupted, _, _ := CheckFrameCorruption(raw); corrupted {
		t.Error("tail scalar tripped the spectral corruption check")
	}
}

func TestCheckFrameCorruptionNoiseThreshold(t *testing.T) {
	raw := cleanRaw()
	// Values above -1e-9 do not count as negative bins.
	for i := 0; i < 100; i++ {
		raw[IdxFFTChan1+i] = -1e-10
	}
	corrupted, negBins, _ := CheckFrameCorruption(raw)
	if corrupted || negBins != 0 {
		t.Errorf("corrupted=%v neg_bins=%d, want false/0", corrupted, negBins)
	}
}

func TestFrameRateConstant(t *testing.T) {
	if got := SampleRate / math.Pow(2, 23); got != FrameRate {
		t.Errorf("FrameRate = %v, want %v", FrameRate, got)
	}
}
