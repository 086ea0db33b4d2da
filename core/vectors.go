package core

import "github.com/pkg/errors"

// PeripheralID indexes a channel in the registry and the vector table.
type PeripheralID uint8

// MaxPeripherals is the size of the registry and vector tables.
const MaxPeripherals = 16

// CauseClass selects one of the interrupt vectors a peripheral may have.
type CauseClass uint8

const (
	CauseGeneral CauseClass = iota // single-vector peripherals (UARTs)
	CauseEvent                     // I2C event vector
	CauseError                     // I2C error vector
	CauseDMA                       // DMA stream completion
	numCauseClasses
)

func (c CauseClass) String() string {
	switch c {
	case CauseGeneral:
		return "general"
	case CauseEvent:
		return "event"
	case CauseError:
		return "error"
	case CauseDMA:
		return "dma"
	default:
		return "unknown"
	}
}

// Handler is an interrupt entry point.
type Handler func()

// VectorTable binds handlers to (peripheral, cause class) pairs. It is
// populated at boot before interrupts are enabled.
type VectorTable struct {
	handlers [MaxPeripherals][numCauseClasses]Handler
}

// Register binds h to id and class.
func (vt *VectorTable) Register(id PeripheralID, class CauseClass, h Handler) error {
	if int(id) >= MaxPeripherals || class >= numCauseClasses {
		return errors.Wrapf(ErrUnknownPeripheral, "vector %d/%s", id, class)
	}
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	if vt.handlers[id][class] != nil {
		return errors.Wrapf(ErrSlotInUse, "vector %d/%s", id, class)
	}
	vt.handlers[id][class] = h
	return nil
}

// Unregister removes the handler bound to id and class.
func (vt *VectorTable) Unregister(id PeripheralID, class CauseClass) {
	if int(id) >= MaxPeripherals || class >= numCauseClasses {
		return
	}
	state := DisableInterrupts()
	vt.handlers[id][class] = nil
	RestoreInterrupts(state)
}

// Dispatch runs the handler bound to id and class with interrupts disabled.
// It reports whether a handler was bound.
func (vt *VectorTable) Dispatch(id PeripheralID, class CauseClass) bool {
	if int(id) >= MaxPeripherals || class >= numCauseClasses {
		return false
	}
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	h := vt.handlers[id][class]
	if h == nil {
		return false
	}
	h()
	return true
}
