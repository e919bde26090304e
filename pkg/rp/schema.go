// Package rp implements the TCP client core for the RedPitaya laser-lock /
// phasemeter server: the binary frame codec, the stream connection with
// byte-level resynchronization, the rolling-history dataset, beatnote
// reconciliation, health evaluation, and the outbound command encoder.
package rp

// Frame layout constants. These mirror the server firmware memory map
// (FRAME_CONTENT_ADDRESS_OFFSET) and are a fixed wire contract: a frame is
// FrameSizeDoubles little-endian IEEE-754 doubles with no delimiter, so
// framing is positional only.
const (
	// FFTSize is the number of spectrum bins per channel.
	FFTSize = 513

	// FrameSizeDoubles is the number of doubles in one frame: counter,
	// two spectra, and 14 tail scalars.
	FrameSizeDoubles = 2*FFTSize + 16 // 1042

	// FrameSizeBytes is the on-wire size of one frame.
	FrameSizeBytes = FrameSizeDoubles * 8 // 8336
)

// Absolute double-indices into an unpacked frame.
const (
	IdxCounter  = 0
	IdxFFTChan1 = 1
	IdxFFTChan2 = 1 + FFTSize   // 514
	idxTail     = 2*FFTSize + 2 // 1028

	IdxPIR0      = idxTail
	IdxPIR1      = idxTail + 1
	IdxQ0        = idxTail + 2
	IdxQ1        = idxTail + 3
	IdxI0        = idxTail + 4
	IdxI1        = idxTail + 5
	IdxPiezo0    = idxTail + 6
	IdxPiezo1    = idxTail + 7
	IdxTemp0     = idxTail + 8
	IdxTemp1     = idxTail + 9
	IdxFreqErr0  = idxTail + 10
	IdxFreqErr1  = idxTail + 11
	IdxBeatFreq0 = idxTail + 12
	IdxBeatFreq1 = idxTail + 13
)

const (
	// SampleRate is the ADC sample rate of the device in Hz. The spectrum
	// bin k maps to frequency k*SampleRate/(2*(FFTSize-1)).
	SampleRate = 125e6

	// FrameRate is the rate at which the device emits frames, in Hz.
	FrameRate = SampleRate / (1 << 23)

	// SpectrumCalFactor converts raw spectrum magnitudes to calibrated
	// units (Vpp). Depends on the individual analog front end.
	SpectrumCalFactor = 125e-3 / 1133

	// HistoryLen is the fixed number of samples kept per rolling
	// time-series channel.
	HistoryLen = 1024

	// LockThresholdFreq is the beatnote-vs-reference deviation (Hz) above
	// which the automatic lock disengage trips.
	LockThresholdFreq = 5e5
)
