package rp

import "sync"

// ring is a fixed-size circular history buffer. It is pre-seeded at
// construction, so it is always full: pushes overwrite the oldest sample
// and values returns the contents oldest-first.
type ring struct {
	buf  []float64
	head int
}

func newRing(n int) *ring {
	return &ring{buf: make([]float64, n)}
}

func (r *ring) push(v float64) {
	r.buf[r.head] = v
	r.head++
	if r.head == len(r.buf) {
		r.head = 0
	}
}

// fill overwrites every slot with v.
func (r *ring) fill(v float64) {
	for i := range r.buf {
		r.buf[i] = v
	}
	r.head = 0
}

// last returns the most recently pushed value.
func (r *ring) last() float64 {
	i := r.head - 1
	if i < 0 {
		i = len(r.buf) - 1
	}
	return r.buf[i]
}

// values copies the contents oldest-first into a fresh slice.
func (r *ring) values() []float64 {
	out := make([]float64, len(r.buf))
	n := copy(out, r.buf[r.head:])
	copy(out[n:], r.buf[:r.head])
	return out
}

// linspaceFill seeds the ring with n evenly spaced values from lo to hi
// inclusive, so history plots have a sane axis before real data arrives.
func (r *ring) linspaceFill(lo, hi float64) {
	n := len(r.buf)
	if n == 1 {
		r.buf[0] = lo
	} else {
		step := (hi - lo) / float64(n-1)
		for i := range r.buf {
			r.buf[i] = lo + float64(i)*step
		}
	}
	r.head = 0
}

// Dataset holds the latest frame snapshot plus rolling history for the
// slow channels. All methods are safe for concurrent use; readers get
// copies, never internal slices.
type Dataset struct {
	mu sync.Mutex

	cnt      int64
	spectrum [2][]float64
	pir      [2]float64
	q        [2]float64
	i        [2]float64
	piezo    [2]float64
	temp     [2]float64
	freqErr  [2]float64
	beatFreq [2]float64

	t            *ring
	pirHist      [2]*ring
	qHist        [2]*ring
	iHist        [2]*ring
	piezoHist    [2]*ring
	tempHist     [2]*ring
	freqErrHist  [2]*ring
	beatFreqHist [2]*ring

	freqAxis []float64
}

// NewDataset returns a Dataset with zeroed snapshot values and history
// rings of HistoryLen samples. The time axis starts as a 0..1 ramp.
func NewDataset() *Dataset {
	d := &Dataset{
		t:        newRing(HistoryLen),
		freqAxis: make([]float64, FFTSize),
	}
	for ch := 0; ch < 2; ch++ {
		d.spectrum[ch] = make([]float64, FFTSize)
		d.pirHist[ch] = newRing(HistoryLen)
		d.qHist[ch] = newRing(HistoryLen)
		d.iHist[ch] = newRing(HistoryLen)
		d.piezoHist[ch] = newRing(HistoryLen)
		d.tempHist[ch] = newRing(HistoryLen)
		d.freqErrHist[ch] = newRing(HistoryLen)
		d.beatFreqHist[ch] = newRing(HistoryLen)
	}
	d.t.linspaceFill(0, 1)
	for k := 0; k < FFTSize; k++ {
		d.freqAxis[k] = float64(k) * SampleRate / 1024.0
	}
	return d
}

// FreqAxis returns the spectrum bin frequencies in Hz: f[k] = k*fs/1024.
func (d *Dataset) FreqAxis() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float64, len(d.freqAxis))
	copy(out, d.freqAxis)
	return out
}

// Clear resets the snapshot and refills every history ring with zeros
// (the time axis with its initial ramp).
func (d *Dataset) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cnt = 0
	for ch := 0; ch < 2; ch++ {
		for k := range d.spectrum[ch] {
			d.spectrum[ch][k] = 0
		}
		d.pir[ch], d.q[ch], d.i[ch] = 0, 0, 0
		d.piezo[ch], d.temp[ch] = 0, 0
		d.freqErr[ch], d.beatFreq[ch] = 0, 0
		d.pirHist[ch].fill(0)
		d.qHist[ch].fill(0)
		d.iHist[ch].fill(0)
		d.piezoHist[ch].fill(0)
		d.tempHist[ch].fill(0)
		d.freqErrHist[ch].fill(0)
		d.beatFreqHist[ch].fill(0)
	}
	d.t.linspaceFill(0, 1)
}

// Substitute replaces the snapshot from a parsed frame. History is not
// touched; call UpdateT for that (after any beatnote reconciliation).
func (d *Dataset) Substitute(f *Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cnt = f.Cnt
	for ch := 0; ch < 2; ch++ {
		copy(d.spectrum[ch], f.Spectrum[ch])
		d.pir[ch] = f.PIR[ch]
		d.q[ch] = f.Q[ch]
		d.i[ch] = f.I[ch]
		d.piezo[ch] = f.Piezo[ch]
		d.temp[ch] = f.Temp[ch]
		d.freqErr[ch] = f.FreqErr[ch]
		d.beatFreq[ch] = f.BeatFreq[ch]
	}
}

// SubstituteRaw parses a raw 1042-double frame and replaces the snapshot.
// Returns false (snapshot untouched) if the layout does not match.
func (d *Dataset) SubstituteRaw(raw []float64) bool {
	f, ok := ParseFrame(raw)
	if !ok {
		return false
	}
	d.Substitute(f)
	return true
}

// SetBeatFreq overwrites one channel's snapshot beatnote, used when the
// reported register value is stale and the spectrum peak wins.
func (d *Dataset) SetBeatFreq(ch int, hz float64) {
	if ch < 0 || ch > 1 {
		return
	}
	d.mu.Lock()
	d.beatFreq[ch] = hz
	d.mu.Unlock()
}

// UpdateT appends the current snapshot's slow channels to the history
// rings and advances the time axis by one sample.
func (d *Dataset) UpdateT() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.t.push(d.t.last() + 1)
	for ch := 0; ch < 2; ch++ {
		d.pirHist[ch].push(d.pir[ch])
		d.qHist[ch].push(d.q[ch])
		d.iHist[ch].push(d.i[ch])
		d.piezoHist[ch].push(d.piezo[ch])
		d.tempHist[ch].push(d.temp[ch])
		d.freqErrHist[ch].push(d.freqErr[ch])
		d.beatFreqHist[ch].push(d.beatFreq[ch])
	}
}

// Snapshot is a point-in-time copy of the latest decoded frame values.
type Snapshot struct {
	Cnt      int64        `json:"cnt"`
	Spectrum [2][]float64 `json:"spectrum"`
	PIR      [2]float64   `json:"pir"`
	Q        [2]float64   `json:"q"`
	I        [2]float64   `json:"i"`
	Piezo    [2]float64   `json:"piezo"`
	Temp     [2]float64   `json:"temp"`
	FreqErr  [2]float64   `json:"freq_err"`
	BeatFreq [2]float64   `json:"beat_freq"`
}

// Snapshot returns a copy of the latest values.
func (d *Dataset) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Snapshot{
		Cnt:      d.cnt,
		PIR:      d.pir,
		Q:        d.q,
		I:        d.i,
		Piezo:    d.piezo,
		Temp:     d.temp,
		FreqErr:  d.freqErr,
		BeatFreq: d.beatFreq,
	}
	for ch := 0; ch < 2; ch++ {
		s.Spectrum[ch] = make([]float64, FFTSize)
		copy(s.Spectrum[ch], d.spectrum[ch])
	}
	return s
}

// History is an oldest-first copy of the slow-channel rings.
type History struct {
	T        []float64    `json:"t"`
	PIR      [2][]float64 `json:"pir"`
	Q        [2][]float64 `json:"q"`
	I        [2][]float64 `json:"i"`
	Piezo    [2][]float64 `json:"piezo"`
	Temp     [2][]float64 `json:"temp"`
	FreqErr  [2][]float64 `json:"freq_err"`
	BeatFreq [2][]float64 `json:"beat_freq"`
}

// History returns oldest-first copies of the time axis and slow channels.
func (d *Dataset) History() History {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := History{T: d.t.values()}
	for ch := 0; ch < 2; ch++ {
		h.PIR[ch] = d.pirHist[ch].values()
		h.Q[ch] = d.qHist[ch].values()
		h.I[ch] = d.iHist[ch].values()
		h.Piezo[ch] = d.piezoHist[ch].values()
		h.Temp[ch] = d.tempHist[ch].values()
		h.FreqErr[ch] = d.freqErrHist[ch].values()
		h.BeatFreq[ch] = d.beatFreqHist[ch].values()
	}
	return h
}
