package rp

// Defaults for EffectiveBeatFreq. The device-reported beatnote can lag or
// survive from a stale lock state, so the spectral peak acts as a sanity
// reference when it is strong enough to trust.
const (
	BeatFreqThresh     = 1e3
	BeatSpecThresh     = 1e-5
	BeatMaxDiscrepancy = 2e6
)

// BeatnoteOpts overrides the reconciliation thresholds.
type BeatnoteOpts struct {
	FreqThresh     float64
	SpecThresh     float64
	MaxDiscrepancy float64
}

// DefaultBeatnoteOpts returns the standard thresholds.
func DefaultBeatnoteOpts() BeatnoteOpts {
	return BeatnoteOpts{
		FreqThresh:     BeatFreqThresh,
		SpecThresh:     BeatSpecThresh,
		MaxDiscrepancy: BeatMaxDiscrepancy,
	}
}

// spectrumPeak returns the index and value of the largest bin.
func spectrumPeak(spectrum []float64) (int, float64) {
	idx, max := 0, 0.0
	for k, v := range spectrum {
		if k == 0 || v > max {
			idx, max = k, v
		}
	}
	return idx, max
}

// EffectiveBeatFreq reconciles the device-reported beat frequency with a
// locally computed spectral peak, using the default thresholds. It returns
// the value to use and whether the local fallback was taken.
func EffectiveBeatFreq(spectrum []float64, deviceValue float64, freqAxis []float64) (float64, bool) {
	return EffectiveBeatFreqOpts(spectrum, deviceValue, freqAxis, DefaultBeatnoteOpts())
}

// EffectiveBeatFreqOpts is EffectiveBeatFreq with explicit thresholds.
//
// The local peak is only trusted when its magnitude reaches SpecThresh.
// A device value at or above FreqThresh wins, unless a trustworthy local
// peak disagrees by more than MaxDiscrepancy. A near-zero device value
// (typical right after reconnect, before the device relocks) always falls
// back to the local peak, possibly zero when no trustworthy peak exists.
func EffectiveBeatFreqOpts(spectrum []float64, deviceValue float64, freqAxis []float64, opts BeatnoteOpts) (float64, bool) {
	argmaxFreq := 0.0
	if len(spectrum) > 0 && len(freqAxis) >= len(spectrum) {
		idx, max := spectrumPeak(spectrum)
		if max >= opts.SpecThresh {
			argmaxFreq = freqAxis[idx]
		}
	}

	if deviceValue >= opts.FreqThresh {
		disagreement := deviceValue - argmaxFreq
		if disagreement < 0 {
			disagreement = -disagreement
		}
		if argmaxFreq != 0 && disagreement > opts.MaxDiscrepancy {
			return argmaxFreq, true
		}
		return deviceValue, false
	}
	return argmaxFreq, true
}
