package position

// movingAverage is a circular buffer of the last n samples.
type movingAverage struct {
	buf []int64
	i   int
	sum int64
}

func newMovingAverage(n int) *movingAverage {
	if n < 1 {
		n = 1
	}
	return &movingAverage{buf: make([]int64, n)}
}

// fill replaces every sample with v.
func (m *movingAverage) fill(v int64) {
	for i := range m.buf {
		m.buf[i] = v
	}
	m.sum = v * int64(len(m.buf))
	m.i = 0
}

func (m *movingAverage) push(v int64) {
	m.sum += v - m.buf[m.i]
	m.buf[m.i] = v
	m.i = (m.i + 1) % len(m.buf)
}

func (m *movingAverage) mean() float64 {
	return float64(m.sum) / float64(len(m.buf))
}

// ema is a first-order exponential filter. The first sample passes through.
type ema struct {
	weight  float64
	value   float64
	started bool
}

func (e *ema) update(v float64) float64 {
	if !e.started {
		e.value = v
		e.started = true
		return v
	}
	e.value = e.weight*v + (1-e.weight)*e.value
	return e.value
}

func (e *ema) set(v float64) {
	e.value = v
	e.started = true
}
