package tensor

import "fmt"

type DeviceType int

const (
	CPU DeviceType = iota
	Nvidia
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "cpu"
	case Nvidia:
		return "nvidia"
	default:
		return fmt.Sprintf("device(%d)", int(d))
	}
}

type Device struct {
	Type DeviceType
	ID   int
}

func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Type, d.ID)
}

var HostDevice = Device{Type: CPU}
