package core

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Channel is a registered peripheral driver.
type Channel interface {
	ID() PeripheralID
	Name() string
	State() ChannelState
	Stop() error
}

// Registry is the fixed table of channels present on a board together with
// the vector table their interrupt handlers are bound into.
type Registry struct {
	channels [MaxPeripherals]Channel
	byName   map[string]Channel
	vectors  VectorTable
	logger   *zap.SugaredLogger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		byName: make(map[string]Channel),
		logger: logger,
	}
}

// Vectors returns the interrupt vector table.
func (r *Registry) Vectors() *VectorTable {
	return &r.vectors
}

// Register adds ch at its peripheral ID.
func (r *Registry) Register(ch Channel) error {
	if ch == nil {
		return errors.New("channel is nil")
	}
	id := ch.ID()
	if int(id) >= MaxPeripherals {
		return errors.Wrapf(ErrUnknownPeripheral, "channel %q id %d", ch.Name(), id)
	}
	if r.channels[id] != nil {
		return errors.Wrapf(ErrSlotInUse, "channel id %d", id)
	}
	if _, exists := r.byName[ch.Name()]; exists {
		return errors.Wrapf(ErrSlotInUse, "channel name %q", ch.Name())
	}
	r.channels[id] = ch
	r.byName[ch.Name()] = ch
	r.logger.Debugw("channel registered", "id", id, "name", ch.Name())
	return nil
}

// Channel returns the channel registered at id.
func (r *Registry) Channel(id PeripheralID) (Channel, bool) {
	if int(id) >= MaxPeripherals || r.channels[id] == nil {
		return nil, false
	}
	return r.channels[id], true
}

// ChannelByName returns the channel registered under name.
func (r *Registry) ChannelByName(name string) (Channel, bool) {
	ch, ok := r.byName[name]
	return ch, ok
}

// Channels returns the registered channels in ID order.
func (r *Registry) Channels() []Channel {
	var out []Channel
	for _, ch := range r.channels {
		if ch != nil {
			out = append(out, ch)
		}
	}
	return out
}

// Teardown stops every channel, highest ID first, and returns the combined
// stop errors.
func (r *Registry) Teardown() error {
	var err error
	for i := MaxPeripherals - 1; i >= 0; i-- {
		ch := r.channels[i]
		if ch == nil {
			continue
		}
		if stopErr := ch.Stop(); stopErr != nil {
			r.logger.Warnw("channel stop failed", "name", ch.Name(), "error", stopErr)
			err = multierr.Append(err, errors.Wrapf(stopErr, "stop %s", ch.Name()))
		}
	}
	return err
}
