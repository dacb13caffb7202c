package session

import "fmt"

// DeviceError reports a fatal failure of the microphone or speaker: opening
// a device, reading a capture block, or scheduling playback.
type DeviceError struct {
	// Op names the failed operation, e.g. "open input".
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("session: device: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// TransportError reports a fatal failure of the connection to the remote
// conversational service: connect failure, remote error, or connection loss.
type TransportError struct {
	// Op names the failed operation, e.g. "connect".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
