// Package protocol implements the line-oriented limit-switch frame format:
//
//	<deviceId>,<T>,<timestampMs>,[<s0>,...,<sN-1>]*<CC>\r\n
//
// CC is the 8-bit XOR of every body byte (deviceId through ']') as two
// uppercase hex digits. The package has no external dependencies so it can be
// built for the firmware target.
package protocol

// MessageType is the single-letter frame type.
type MessageType byte

const (
	Event     MessageType = 'E'
	Status    MessageType = 'S'
	Heartbeat MessageType = 'H'
)

// PollCommand is the inbound byte that requests an immediate Status frame.
const PollCommand = '?'

// Terminator ends every frame.
const Terminator = "\r\n"

// String returns the long name used in logs and MQTT payloads.
func (t MessageType) String() string {
	switch t {
	case Event:
		return "EVENT"
	case Status:
		return "STATUS"
	case Heartbeat:
		return "HEARTBEAT"
	}
	return "UNKNOWN"
}

// Valid reports whether t is one of the three defined frame types.
func (t MessageType) Valid() bool {
	return t == Event || t == Status || t == Heartbeat
}

// Frame is a decoded (or about to be encoded) protocol message.
type Frame struct {
	DeviceID  string
	Type      MessageType
	Timestamp uint32
	States    []bool
	Checksum  byte
}

// Body returns the checksummed part of the frame.
func (f Frame) Body() string {
	return string(appendBody(nil, f.DeviceID, f.Type, f.Timestamp, f.States))
}

// String returns the body followed by the checksum, without the terminator.
func (f Frame) String() string {
	line := AppendFrame(nil, f.DeviceID, f.Type, f.Timestamp, f.States)
	return string(line[:len(line)-len(Terminator)])
}

// Checksum XORs every byte of body.
func Checksum(body []byte) byte {
	var chk byte
	for _, b := range body {
		chk ^= b
	}
	return chk
}
