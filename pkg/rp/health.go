package rp

import "math"

// Level is a traffic-light health indicator.
type Level int

const (
	LevelGreen Level = iota
	LevelYellow
	LevelRed
)

func (l Level) String() string {
	switch l {
	case LevelGreen:
		return "green"
	case LevelYellow:
		return "yellow"
	case LevelRed:
		return "red"
	}
	return "unknown"
}

// MarshalText lets levels serialize as their color names.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// CombineLevels returns the worst level of the given set: Red beats
// Yellow beats Green. An empty set is Green.
func CombineLevels(levels ...Level) Level {
	worst := LevelGreen
	for _, l := range levels {
		if l > worst {
			worst = l
		}
	}
	return worst
}

// HealthSnapshot holds the six indicator levels for one tick.
type HealthSnapshot struct {
	FFT         Level `json:"fft"`
	ILevel      Level `json:"i_level"`
	QLevel      Level `json:"q_level"`
	FreqReadout Level `json:"freq_readout"`
	FreqError   Level `json:"freq_error"`
	Control     Level `json:"control"`
}

// Worst returns the combined level across all six indicators.
func (h HealthSnapshot) Worst() Level {
	return CombineLevels(h.FFT, h.ILevel, h.QLevel, h.FreqReadout, h.FreqError, h.Control)
}

// allclose matches numpy semantics: |a-b| <= atol + rtol*|b| elementwise.
func allclose(a, b []float64, rtol, atol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if math.Abs(a[k]-b[k]) > atol+rtol*math.Abs(b[k]) {
			return false
		}
	}
	return true
}

// ExpectedFreqAxis returns the analytic spectrum axis f[k] = k*fs/1024.
func ExpectedFreqAxis() []float64 {
	f := make([]float64, FFTSize)
	for k := range f {
		f[k] = float64(k) * SampleRate / (2 * (FFTSize - 1))
	}
	return f
}

func fftDataOK(freqAxis []float64, spectra [2][]float64) bool {
	if len(freqAxis) != FFTSize {
		return false
	}
	if !allclose(freqAxis, ExpectedFreqAxis(), 1e-5, 1e-8) {
		return false
	}
	for ch := 0; ch < 2; ch++ {
		if len(spectra[ch]) != FFTSize {
			return false
		}
		for _, v := range spectra[ch] {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1e6 {
				return false
			}
		}
	}
	return true
}

// fftPeakFrequency is the axis frequency at the channel's strongest bin.
// No magnitude gate here: the readout comparison tolerates a weak peak,
// unlike the beatnote reconciler.
func fftPeakFrequency(spectrum, freqAxis []float64) float64 {
	if len(spectrum) == 0 || len(freqAxis) < len(spectrum) {
		return 0
	}
	idx, _ := spectrumPeak(spectrum)
	return freqAxis[idx]
}

func iLevel(i float64) Level {
	switch {
	case i < 0:
		return LevelRed
	case i <= 1e-3:
		return LevelYellow
	default:
		return LevelGreen
	}
}

func qLevel(q float64) Level {
	aq := math.Abs(q)
	switch {
	case aq > 1.0:
		return LevelRed
	case aq <= 1e-9:
		return LevelGreen
	default:
		return LevelYellow
	}
}

func freqReadoutLevel(pir, peak float64) Level {
	switch {
	case pir < 0:
		return LevelRed
	case pir == 0:
		return LevelYellow
	case peak != 0 && math.Abs(pir-peak) <= 0.1*peak:
		return LevelGreen
	default:
		return LevelYellow
	}
}

func freqErrorLevel(err float64) Level {
	ae := math.Abs(err)
	switch {
	case ae > 1.0:
		return LevelRed
	case ae > 0 && ae < 1e-6:
		return LevelGreen
	default:
		return LevelYellow
	}
}

func controlLevel(piezo, temp float64) Level {
	m := math.Max(math.Abs(piezo), math.Abs(temp))
	switch {
	case m > 1.0:
		return LevelRed
	case m < 0.5 && m != 0:
		return LevelGreen
	default:
		return LevelYellow
	}
}

// ComputeHealth derives the six indicator levels from a snapshot. Channel
// pairs combine worst-of. In phasemeter mode the servo-side indicators
// (frequency error, control signals) do not apply and read Green; in
// laser-lock mode the raw frequency readout is not the relevant quantity
// and reads Green.
func ComputeHealth(s Snapshot, freqAxis []float64, variant Variant) HealthSnapshot {
	h := HealthSnapshot{}

	if fftDataOK(freqAxis, s.Spectrum) {
		h.FFT = LevelGreen
	} else {
		h.FFT = LevelRed
	}

	h.ILevel = CombineLevels(iLevel(s.I[0]), iLevel(s.I[1]))
	h.QLevel = CombineLevels(qLevel(s.Q[0]), qLevel(s.Q[1]))

	if variant == VariantPhasemeter {
		h.FreqReadout = CombineLevels(
			freqReadoutLevel(s.PIR[0], fftPeakFrequency(s.Spectrum[0], freqAxis)),
			freqReadoutLevel(s.PIR[1], fftPeakFrequency(s.Spectrum[1], freqAxis)),
		)
		h.FreqError = LevelGreen
		h.Control = LevelGreen
	} else {
		h.FreqReadout = LevelGreen
		h.FreqError = CombineLevels(freqErrorLevel(s.FreqErr[0]), freqErrorLevel(s.FreqErr[1]))
		h.Control = CombineLevels(
			controlLevel(s.Piezo[0], s.Temp[0]),
			controlLevel(s.Piezo[1], s.Temp[1]),
		)
	}
	return h
}

// InferPhasemeter guesses, from frame content alone, whether the device is
// running the reduced readout-only build: the frequency-error words mirror
// the readout, the actuator channels sit at zero, and at least one channel
// shows a real readout. Best effort only, used when the handshake is
// silent or inconsistent.
func InferPhasemeter(s Snapshot) bool {
	const tol = 1e-6
	someSignal := false
	for ch := 0; ch < 2; ch++ {
		if math.Abs(s.FreqErr[ch]-s.PIR[ch]) > tol {
			return false
		}
		if math.Abs(s.Piezo[ch]) > tol || math.Abs(s.Temp[ch]) > tol {
			return false
		}
		if math.Abs(s.PIR[ch]) >= 1.0 {
			someSignal = true
		}
	}
	return someSignal
}
