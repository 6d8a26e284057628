package session

import "github.com/srg/shoesensor/internal/sampler"

// Tee fans samples and session notifications out to several consumers, in order.
func Tee(consumers ...Consumer) Consumer {
	list := make([]Consumer, 0, len(consumers))
	for _, c := range consumers {
		if c != nil {
			list = append(list, c)
		}
	}
	return tee(list)
}

type tee []Consumer

func (t tee) Accept(s sampler.Sample) {
	for _, c := range t {
		c.Accept(s)
	}
}

func (t tee) SessionEnded() {
	for _, c := range t {
		c.SessionEnded()
	}
}

// ConsumerFuncs adapts a pair of functions to Consumer. Nil fields are no-ops.
type ConsumerFuncs struct {
	OnSample       func(sampler.Sample)
	OnSessionEnded func()
}

func (f ConsumerFuncs) Accept(s sampler.Sample) {
	if f.OnSample != nil {
		f.OnSample(s)
	}
}

func (f ConsumerFuncs) SessionEnded() {
	if f.OnSessionEnded != nil {
		f.OnSessionEnded()
	}
}
