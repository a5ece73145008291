// Package gpio provides presence-sensor input reading with hardware
// abstraction. The real implementation uses the Linux GPIO character device;
// the fake implementation allows testing without hardware.
package gpio

// Reader reads the presence state of every configured compartment line.
type Reader interface {
	// Read returns one logical presence value per configured pin, in pin
	// order. Raw GPIO is inverted: raw active (1) means the container was
	// lifted off its microswitch, i.e. logically absent.
	Read() ([]bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Default BCM pin assignment for a four-slot dispenser tray.
var DefaultPins = []int{26, 16, 20, 21}
