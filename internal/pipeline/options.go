package pipeline

import "time"

// Option -
type Option func(*Pipeline)

// WithWorkers - count of goroutines interning transactions of one block
func WithWorkers(workers int) Option {
	return func(p *Pipeline) {
		if workers > 0 {
			p.workers = workers
		}
	}
}

// WithMaxRetries -
func WithMaxRetries(retries uint64) Option {
	return func(p *Pipeline) {
		p.maxRetries = retries
	}
}

// WithRetryInterval - initial interval of exponential backoff
func WithRetryInterval(interval time.Duration) Option {
	return func(p *Pipeline) {
		if interval > 0 {
			p.retryInterval = interval
		}
	}
}

// WithMetrics -
func WithMetrics(metrics *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

// WithTokenHandler - handler is called after commit for every ERC20 contract seen in block
func WithTokenHandler(handler TokenHandler) Option {
	return func(p *Pipeline) {
		p.onToken = handler
	}
}
