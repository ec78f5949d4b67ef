package rsp

import (
	"bytes"
	"fmt"
)

// escapeXor is the value the protocol uses to escape characters
const escapeXor byte = 0x20

const escapeChar = '}'

var hexdigit = []byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f'}

func needsEscape(ch byte) bool {
	switch ch {
	case '$', '#', '*', escapeChar:
		return true
	}
	return false
}

// encode appends the framed and escaped form of payload to out. The
// checksum covers the bytes as they appear on the wire, escape characters
// included.
func encode(out *bytes.Buffer, payload []byte) {
	var sum uint8
	out.WriteByte('$')
	for _, ch := range payload {
		if needsEscape(ch) {
			sum += escapeChar
			out.WriteByte(escapeChar)
			ch ^= escapeXor
		}
		sum += ch
		out.WriteByte(ch)
	}
	out.WriteByte('#')
	out.WriteByte(hexdigit[sum>>4])
	out.WriteByte(hexdigit[sum&0xf])
}

// Encode returns the wire form of payload: '$', the escaped payload, '#'
// and two hex checksum digits.
func Encode(payload []byte) []byte {
	var out bytes.Buffer
	encode(&out, payload)
	return out.Bytes()
}

// Checksum returns the modulo 256 sum of data.
func Checksum(data []byte) (sum uint8) {
	for _, ch := range data {
		sum += ch
	}
	return sum
}

// Decode verifies the checksum of a framed packet and returns its
// unescaped payload.
func Decode(pkt []byte) ([]byte, error) {
	if len(pkt) < 4 || pkt[0] != '$' {
		return nil, fmt.Errorf("malformed packet %q", pkt)
	}
	end := bytes.LastIndexByte(pkt, '#')
	if end < 0 || end+3 != len(pkt) {
		return nil, fmt.Errorf("malformed packet %q", pkt)
	}
	wire := pkt[1:end]
	want, ok := parseChecksum(pkt[end+1:])
	if !ok {
		return nil, fmt.Errorf("malformed checksum in packet %q", pkt)
	}
	if sum := Checksum(wire); sum != want {
		return nil, fmt.Errorf("checksum mismatch: computed %02x, packet says %02x", sum, want)
	}
	return unescape(wire), nil
}

func unescape(in []byte) []byte {
	buf := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		switch ch := in[i]; ch {
		case escapeChar:
			if i+1 >= len(in) {
				buf = append(buf, ch)
			} else {
				buf = append(buf, in[i+1]^escapeXor)
				i++
			}
		default:
			buf = append(buf, ch)
		}
	}
	return buf
}

func parseChecksum(digits []byte) (uint8, bool) {
	if len(digits) != 2 {
		return 0, false
	}
	hi, ok1 := hexval(digits[0])
	lo, ok2 := hexval(digits[1])
	return hi<<4 | lo, ok1 && ok2
}

func hexval(ch byte) (uint8, bool) {
	switch {
	case ch >= '0' && ch <= '9':
		return ch - '0', true
	case ch >= 'a' && ch <= 'f':
		return ch - 'a' + 10, true
	case ch >= 'A' && ch <= 'F':
		return ch - 'A' + 10, true
	}
	return 0, false
}
