package protocol

import "strconv"

const hexDigits = "0123456789ABCDEF"

// maxTimestampDigits is len("4294967295").
const maxTimestampDigits = 10

// MaxFrameLen is the worst-case encoded length of a frame, terminator included.
func MaxFrameLen(deviceIDLen, channels int) int {
	n := deviceIDLen + len(",E,") + maxTimestampDigits + len(",[]") + len("*CC") + len(Terminator)
	if channels > 0 {
		n += 2*channels - 1
	}
	return n
}

// AppendFrame appends one complete encoded frame to dst.
func AppendFrame(dst []byte, deviceID string, t MessageType, ts uint32, states []bool) []byte {
	start := len(dst)
	dst = appendBody(dst, deviceID, t, ts, states)
	chk := Checksum(dst[start:])
	dst = append(dst, '*', hexDigits[chk>>4], hexDigits[chk&0x0F])
	return append(dst, Terminator...)
}

func appendBody(dst []byte, deviceID string, t MessageType, ts uint32, states []bool) []byte {
	dst = append(dst, deviceID...)
	dst = append(dst, ',', byte(t), ',')
	dst = strconv.AppendUint(dst, uint64(ts), 10)
	dst = append(dst, ',', '[')
	for i, s := range states {
		if i > 0 {
			dst = append(dst, ',')
		}
		if s {
			dst = append(dst, '1')
		} else {
			dst = append(dst, '0')
		}
	}
	return append(dst, ']')
}

// Encoder writes frames for one device into a buffer sized once for the worst
// case, so encoding never allocates.
type Encoder struct {
	deviceID string
	buf      []byte
}

// NewEncoder returns an encoder for a device with the given channel count.
func NewEncoder(deviceID string, channels int) *Encoder {
	return &Encoder{
		deviceID: deviceID,
		buf:      make([]byte, 0, MaxFrameLen(len(deviceID), channels)),
	}
}

// Encode returns the encoded frame. The slice is only valid until the next call.
func (e *Encoder) Encode(t MessageType, ts uint32, states []bool) []byte {
	e.buf = AppendFrame(e.buf[:0], e.deviceID, t, ts, states)
	return e.buf
}
