package transport

import "time"

// fibonacciBackOff implements cenkalti/backoff/v4's BackOff interface,
// producing the Fibonacci delay sequence spec.md §4.2 requires for result
// POST retries: 1s, 1s, 2s, 3s, 5s, ... Reset restarts the sequence.
//
// cenkalti/backoff/v4 ships ExponentialBackOff and ConstantBackOff but no
// Fibonacci variant, so this is a small custom BackOff grounded on the
// same interface CZERTAINLY-Seeker's indirect dependency exposes, rather
// than a hand-rolled retry loop.
type fibonacciBackOff struct {
	a, b time.Duration
}

func newFibonacciBackOff() *fibonacciBackOff {
	b := &fibonacciBackOff{}
	b.Reset()
	return b
}

func (f *fibonacciBackOff) Reset() {
	f.a = time.Second
	f.b = time.Second
}

func (f *fibonacciBackOff) NextBackOff() time.Duration {
	delay := f.a
	f.a, f.b = f.b, f.a+f.b
	return delay
}
