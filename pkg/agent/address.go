package agent

import (
	"bytes"
	"fmt"
	"strconv"
)

// Offsets of the address field in packets that carry one.
const (
	memoryAddrOffset     = len("m")
	breakpointAddrOffset = len("Z0,")
)

// AddressError is returned when a packet does not carry a valid target
// address where one is expected.
type AddressError struct {
	Packet string
	Err    error
}

func (e *AddressError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("no address in packet %q", e.Packet)
	}
	return fmt.Sprintf("bad address in packet %q: %v", e.Packet, e.Err)
}

func (e *AddressError) Unwrap() error { return e.Err }

// parseAddress extracts the hex address that starts offset bytes into pkt
// and ends at the next ',' or at the end of the packet.
func parseAddress(pkt []byte, offset int) (uint32, error) {
	if len(pkt) <= offset {
		return 0, &AddressError{Packet: string(pkt)}
	}
	field := pkt[offset:]
	if i := bytes.IndexByte(field, ','); i >= 0 {
		field = field[:i]
	}
	if len(field) == 0 {
		return 0, &AddressError{Packet: string(pkt)}
	}
	addr, err := strconv.ParseUint(string(field), 16, 32)
	if err != nil {
		return 0, &AddressError{Packet: string(pkt), Err: err}
	}
	return uint32(addr), nil
}
