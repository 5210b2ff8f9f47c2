// Package zmqpub mirrors conversation events onto a ZeroMQ PUB socket so
// processes outside the API server can follow them. Each event is a
// two-frame message: the channel name (usable as a SUB prefix filter) and a
// JSON envelope.
package zmqpub

import (
	"encoding/json"
	"sync"

	zmq "github.com/pebbe/zmq4"
	"github.com/pkg/errors"
)

type Envelope struct {
	Event        string          `json:"event"`
	Data         json.RawMessage `json:"data"`
	ExceptUserID uint            `json:"except_user_id,omitempty"`
}

type Publisher struct {
	mu     sync.Mutex
	ctx    *zmq.Context
	socket *zmq.Socket
}

// New binds a PUB socket on endpoint, e.g. "tcp://*:5557".
func New(endpoint string) (*Publisher, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, errors.Wrap(err, "zmqpub: context")
	}
	socket, err := ctx.NewSocket(zmq.PUB)
	if err != nil {
		ctx.Term()
		return nil, errors.Wrap(err, "zmqpub: socket")
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		ctx.Term()
		return nil, errors.Wrap(err, "zmqpub: linger")
	}
	if err := socket.Bind(endpoint); err != nil {
		socket.Close()
		ctx.Term()
		return nil, errors.Wrapf(err, "zmqpub: bind %s", endpoint)
	}
	return &Publisher{ctx: ctx, socket: socket}, nil
}

// Publish implements events.Publisher. ZeroMQ drops messages for slow or
// absent subscribers, which matches the best-effort contract.
func (p *Publisher) Publish(channel, event string, payload any, exceptUserID uint) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "zmqpub: marshal payload")
	}
	env, err := json.Marshal(Envelope{Event: event, Data: data, ExceptUserID: exceptUserID})
	if err != nil {
		return errors.Wrap(err, "zmqpub: marshal envelope")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.socket.SendMessageDontwait(channel, env); err != nil {
		return errors.Wrap(err, "zmqpub: send")
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.socket.Close(); err != nil {
		return err
	}
	return p.ctx.Term()
}
