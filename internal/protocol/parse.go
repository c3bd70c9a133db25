package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Receiver-side errors.
var (
	ErrMalformed   = errors.New("protocol: malformed frame")
	ErrChecksum    = errors.New("protocol: checksum mismatch")
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// ParseFrame decodes and verifies one line. A trailing "\r\n" (or "\n") is
// optional. Corrupt frames must be dropped by the caller.
func ParseFrame(line []byte) (Frame, error) {
	line = bytes.TrimRight(line, "\r\n")

	star := bytes.LastIndexByte(line, '*')
	if star < 0 || len(line)-star != 3 {
		return Frame{}, fmt.Errorf("%w: missing checksum field", ErrMalformed)
	}
	body := line[:star]
	want, err := strconv.ParseUint(string(line[star+1:]), 16, 8)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: bad checksum digits %q", ErrMalformed, line[star+1:])
	}
	if got := Checksum(body); got != byte(want) {
		return Frame{}, fmt.Errorf("%w: body %02X, field %02X", ErrChecksum, got, byte(want))
	}

	f := Frame{Checksum: byte(want)}

	fields := bytes.SplitN(body, []byte{','}, 4)
	if len(fields) != 4 {
		return Frame{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformed, len(fields))
	}
	if len(fields[0]) == 0 {
		return Frame{}, fmt.Errorf("%w: empty device id", ErrMalformed)
	}
	f.DeviceID = string(fields[0])

	if len(fields[1]) != 1 {
		return Frame{}, fmt.Errorf("%w: type %q", ErrMalformed, fields[1])
	}
	f.Type = MessageType(fields[1][0])
	if !f.Type.Valid() {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownType, fields[1])
	}

	ts, err := strconv.ParseUint(string(fields[2]), 10, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, fields[2])
	}
	f.Timestamp = uint32(ts)

	f.States, err = parseArray(fields[3])
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

func parseArray(b []byte) ([]bool, error) {
	if len(b) < 2 || b[0] != '[' || b[len(b)-1] != ']' {
		return nil, fmt.Errorf("%w: array %q", ErrMalformed, b)
	}
	inner := b[1 : len(b)-1]
	if len(inner) == 0 {
		return []bool{}, nil
	}
	parts := bytes.Split(inner, []byte{','})
	states := make([]bool, len(parts))
	for i, p := range parts {
		switch string(p) {
		case "1":
			states[i] = true
		case "0":
		default:
			return nil, fmt.Errorf("%w: state %d is %q", ErrMalformed, i, p)
		}
	}
	return states, nil
}
