package fed

import "time"

type backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

func (b *backoff) next() time.Duration {
	d := b.base << b.attempt
	if d > b.max {
		d = b.max
		return d
	}
	b.attempt++
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
}
