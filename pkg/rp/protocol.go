package rp

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Capability handshake. The server sends one ASCII line immediately after
// accept: "RP_CAP:<variant>\n". Older servers send nothing.
const (
	CapPrefix  = "RP_CAP:"
	capLineMax = 32

	// DefaultPort is the TCP port the device server listens on.
	DefaultPort = 1001
)

// Variant is the server capability advertised in the handshake.
type Variant string

const (
	// VariantPhasemeter is the reduced capability: frequency readout only.
	VariantPhasemeter Variant = "phasemeter"
	// VariantLaserLock is the full capability including piezo/temperature
	// servo control.
	VariantLaserLock Variant = "laser_lock"
)

// ParseVariant maps a handshake suffix to a known Variant.
func ParseVariant(s string) (Variant, bool) {
	switch Variant(strings.TrimSpace(s)) {
	case VariantPhasemeter:
		return VariantPhasemeter, true
	case VariantLaserLock:
		return VariantLaserLock, true
	}
	return "", false
}

// PackRegisterWrite encodes a register write as two little-endian uint32
// words: (register_id << 24) then the value. The register id is given as a
// hex string ("03", "1F") to match the firmware register map notation.
func PackRegisterWrite(registerHex string, value uint32) ([]byte, error) {
	id, err := strconv.ParseUint(registerHex, 16, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid register id %q: %w", registerHex, err)
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(id)<<24)
	binary.LittleEndian.PutUint32(buf[4:8], value)
	return buf, nil
}

// PackReset encodes the 4-byte reset command: hold (0x01000000) or
// release (0x01000001).
func PackReset(release bool) []byte {
	word := uint32(0x01000000)
	if release {
		word = 0x01000001
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, word)
	return buf
}

// ScaledValueToInt converts a display value to register units by a fixed
// scale factor. Truncates toward zero; the firmware expects that, not
// rounding.
func ScaledValueToInt(displayValue, factor float64) int64 {
	return int64(factor * displayValue)
}

// OffsetFloatToInt encodes an offset in [-0.99, 0.99] as 14-bit signed
// fixed point: value*2^13, two's-complemented into 14 bits when negative.
func OffsetFloatToInt(displayValue float64) uint32 {
	v := int64(displayValue * (1 << 13))
	if v < 0 {
		v += 1 << 14
	}
	return uint32(v)
}

// SendRegisterWrite encodes and writes a register write. A nil writer is a
// no-op, so callers need not guard against a missing connection.
func SendRegisterWrite(w io.Writer, registerHex string, value uint32) error {
	if w == nil {
		return nil
	}
	payload, err := PackRegisterWrite(registerHex, value)
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("register %s write: %w", registerHex, err)
	}
	return nil
}

// SendReset encodes and writes the reset hold/release command. A nil
// writer is a no-op.
func SendReset(w io.Writer, release bool) error {
	if w == nil {
		return nil
	}
	if _, err := w.Write(PackReset(release)); err != nil {
		return fmt.Errorf("reset write: %w", err)
	}
	return nil
}
