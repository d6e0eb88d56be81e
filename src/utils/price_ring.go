package utils

// -----------------------------------------------------------------------------
// PriceRing is a fixed-size circular buffer of price samples.
// True ring buffer - no resizing: once full, the oldest sample is overwritten,
// so per-symbol memory stays bounded no matter how long the stream runs.
// -----------------------------------------------------------------------------

type PriceSample struct {
	Timestamp int64
	Price     float64
}

type PriceRing struct {
	data     []PriceSample
	capacity int
	index    int // Next write position
	size     int // Current number of elements
}

// -----------------------------------------------------------------------------

// NewPriceRing creates a new ring with fixed capacity
func NewPriceRing(capacity int) *PriceRing {
	if capacity <= 0 {
		capacity = 50 // Default reasonable size
	}

	return &PriceRing{
		data:     make([]PriceSample, capacity),
		capacity: capacity,
		index:    0,
		size:     0,
	}
}

// -----------------------------------------------------------------------------

// Append adds a sample, evicting the oldest once the ring is full
func (pr *PriceRing) Append(sample PriceSample) {
	pr.data[pr.index] = sample
	pr.index = (pr.index + 1) % pr.capacity

	// Update size (never exceeds capacity)
	if pr.size < pr.capacity {
		pr.size++
	}
}

// -----------------------------------------------------------------------------

// Latest returns the n most recent samples, oldest first
func (pr *PriceRing) Latest(n int) []PriceSample {
	if pr.size == 0 || n <= 0 {
		return []PriceSample{}
	}

	count := n
	if n > pr.size {
		count = pr.size
	}

	result := make([]PriceSample, count)

	// Latest data is at index-1
	startIdx := (pr.index - count + pr.capacity) % pr.capacity
	for i := 0; i < count; i++ {
		result[i] = pr.data[(startIdx+i)%pr.capacity]
	}

	return result
}

// -----------------------------------------------------------------------------

// MovingAverage computes the simple moving average over the n latest samples.
// Returns 0 when the ring is empty.
func (pr *PriceRing) MovingAverage(n int) float64 {
	samples := pr.Latest(n)
	if len(samples) == 0 {
		return 0
	}

	sum := 0.0
	for _, s := range samples {
		sum += s.Price
	}
	return sum / float64(len(samples))
}

// -----------------------------------------------------------------------------

// Size returns current number of elements
func (pr *PriceRing) Size() int {
	return pr.size
}

// -----------------------------------------------------------------------------

// Capacity returns ring capacity (fixed)
func (pr *PriceRing) Capacity() int {
	return pr.capacity
}

// -----------------------------------------------------------------------------

// IsFull returns whether the ring is full
func (pr *PriceRing) IsFull() bool {
	return pr.size == pr.capacity
}

// -----------------------------------------------------------------------------

// Clear resets the ring
func (pr *PriceRing) Clear() {
	pr.index = 0
	pr.size = 0
}
