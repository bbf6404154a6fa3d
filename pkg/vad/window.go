package vad

// EnergyWindow is a bounded ring buffer of scalar energy readings used to
// compute a rolling average and peak. It is owned exclusively by a Detector
// and is not safe for concurrent use.
type EnergyWindow struct {
	buf   []float64
	head  int
	count int
}

// NewEnergyWindow creates a window with the given capacity. A capacity below
// one is coerced to one.
func NewEnergyWindow(capacity int) *EnergyWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &EnergyWindow{buf: make([]float64, capacity)}
}

// Push appends a reading, evicting the oldest once the window is full.
func (w *EnergyWindow) Push(v float64) {
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// Len returns the number of readings currently held.
func (w *EnergyWindow) Len() int { return w.count }

// Average returns the mean of the held readings, or 0 when empty.
func (w *EnergyWindow) Average() float64 {
	if w.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.at(i)
	}
	return sum / float64(w.count)
}

// Peak returns the largest held reading, or 0 when empty.
func (w *EnergyWindow) Peak() float64 {
	var peak float64
	for i := 0; i < w.count; i++ {
		if v := w.at(i); v > peak {
			peak = v
		}
	}
	return peak
}

// Reset discards all readings.
func (w *EnergyWindow) Reset() {
	w.head = 0
	w.count = 0
}

// at returns the i-th oldest reading. Caller must ensure i < count.
func (w *EnergyWindow) at(i int) float64 {
	start := w.head - w.count
	if start < 0 {
		start += len(w.buf)
	}
	return w.buf[(start+i)%len(w.buf)]
}
