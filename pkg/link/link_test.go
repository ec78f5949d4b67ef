package link

import (
	"bufio"
	"net"
	"testing"

	"github.com/patmos-dbg/rspagent/pkg/rsp"
)

func TestConnCarriesPackets(t *testing.T) {
	agentSide, hostSide := net.Pipe()
	defer hostSide.Close()

	conn := rsp.NewConn(New(agentSide))
	done := make(chan error, 1)
	go func() {
		defer agentSide.Close()
		pkt, err := conn.Recv()
		if err != nil {
			done <- err
			return
		}
		done <- conn.Send(pkt)
	}()

	if _, err := hostSide.Write(rsp.Encode([]byte("m24b40,4"))); err != nil {
		t.Fatal(err)
	}
	r := bufio.NewReader(hostSide)
	ack, err := r.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if ack != '+' {
		t.Fatalf("expected '+', got %q", ack)
	}
	echo, err := r.ReadString('#')
	if err != nil {
		t.Fatal(err)
	}
	if echo != "$m24b40,4#" {
		t.Fatalf("unexpected echo %q", echo)
	}
	var sum [2]byte
	if _, err := r.Read(sum[:1]); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Read(sum[1:]); err != nil {
		t.Fatal(err)
	}
	if _, err := hostSide.Write([]byte{'+'}); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestConnReportsClose(t *testing.T) {
	agentSide, hostSide := net.Pipe()
	hostSide.Close()

	conn := rsp.NewConn(New(agentSide))
	if _, err := conn.Recv(); err != rsp.ErrLinkClosed {
		t.Fatalf("expected ErrLinkClosed, got %v", err)
	}
}
