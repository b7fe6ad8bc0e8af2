// Package registry implements the construction-time-only producer/consumer
// factory registry (§6 "producer factory", §9 DESIGN NOTES "Global state":
// "Model these as an explicit module_registry injected at channel
// construction; construction-time only, never mutated after.").
package registry

import (
	"fmt"

	"github.com/relaycore/channelcore/internal/consumer"
	"github.com/relaycore/channelcore/internal/gpu"
	"github.com/relaycore/channelcore/internal/pixfmt"
	"github.com/relaycore/channelcore/internal/producer"
)

// ProducerFactory builds a producer from string parameters, or returns
// producer.Empty with a nil error if the parameters don't name anything it
// recognizes — creation tries factories in registration order until one
// claims the parameters (§6 "Registration is by factory function; creation
// tries factories in order.").
type ProducerFactory func(factory *gpu.FrameFactory, format pixfmt.VideoFormat, params []string) (producer.Producer, error)

// ConsumerFactory builds a consumer from string parameters, analogous to
// ProducerFactory.
type ConsumerFactory func(params []string) (consumer.Consumer, error)

// Registry holds the process-wide factory lists. It is built once at
// startup via New and Register* and is never mutated again; cmd/channelsrv
// uses it read-only to build each channel's producers and consumers
// (Channel itself holds no reference to it).
type Registry struct {
	producers []namedProducerFactory
	consumers []namedConsumerFactory
}

type namedProducerFactory struct {
	name    string
	factory ProducerFactory
}

type namedConsumerFactory struct {
	name    string
	factory ConsumerFactory
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// RegisterProducer appends a producer factory under name, used only for
// diagnostics (errors, status). Must be called before the registry is
// handed to any channel.
func (r *Registry) RegisterProducer(name string, f ProducerFactory) {
	r.producers = append(r.producers, namedProducerFactory{name: name, factory: f})
}

// RegisterConsumer appends a consumer factory under name.
func (r *Registry) RegisterConsumer(name string, f ConsumerFactory) {
	r.consumers = append(r.consumers, namedConsumerFactory{name: name, factory: f})
}

// CreateProducer tries each registered producer factory in order, returning
// the first non-empty result. If every factory declines, it returns
// producer.Empty per §6.
func (r *Registry) CreateProducer(frameFactory *gpu.FrameFactory, format pixfmt.VideoFormat, params []string) (producer.Producer, error) {
	for _, nf := range r.producers {
		p, err := nf.factory(frameFactory, format, params)
		if err != nil {
			return nil, fmt.Errorf("registry: producer factory %q: %w", nf.name, err)
		}
		if p != nil && p != producer.Empty {
			return p, nil
		}
	}
	return producer.Empty, nil
}

// CreateConsumer tries each registered consumer factory in order.
func (r *Registry) CreateConsumer(params []string) (consumer.Consumer, error) {
	for _, nf := range r.consumers {
		c, err := nf.factory(params)
		if err != nil {
			return nil, fmt.Errorf("registry: consumer factory %q: %w", nf.name, err)
		}
		if c != nil {
			return c, nil
		}
	}
	return nil, fmt.Errorf("registry: no consumer factory matched params %v", params)
}
