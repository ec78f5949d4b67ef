// Package agent implements the command loop of the debug agent: it
// announces a stop to the host debugger and serves its requests until the
// host lets the program run again.
package agent

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/patmos-dbg/rspagent/pkg/logflags"
	"github.com/patmos-dbg/rspagent/pkg/proc"
	"github.com/patmos-dbg/rspagent/pkg/rsp"
)

// sigtrap is the signal reported for every stop.
const sigtrap = 5

// Error replies.
const (
	errBadPacket = "E01"
	errMemory    = "E03"
	errTableFull = "E0E"
)

// Stats counts the packets served by an Agent.
type Stats struct {
	Stops   int // trap entries
	Packets int // packets received
	Ignored int // packets matching no command
}

// Agent serves one host debugger over a packet connection.
type Agent struct {
	conn *rsp.Conn
	mem  proc.MemoryReader
	bps  *proc.Breakpoints

	frame proc.Frame
	stats Stats

	log logflags.Logger
}

// New returns an Agent talking to the host over conn, reading target
// memory through mem and patching code through bps.
func New(conn *rsp.Conn, mem proc.MemoryReader, bps *proc.Breakpoints) *Agent {
	return &Agent{
		conn: conn,
		mem:  mem,
		bps:  bps,
		log:  logflags.AgentLogger(),
	}
}

// Stats returns a copy of the packet counters.
func (a *Agent) Stats() Stats {
	return a.stats
}

// Breakpoints returns the breakpoint table used by the agent.
func (a *Agent) Breakpoints() *proc.Breakpoints {
	return a.bps
}

// HandleTrap implements proc.TrapHandler. It reports the stop to the host
// and serves packets until a 'c' or 'D' packet is received. Errors are
// only returned when the link fails.
func (a *Agent) HandleTrap(f proc.Frame) (proc.ResumeMode, error) {
	a.frame = f
	a.stats.Stops++
	if err := a.conn.SendString(stopReply()); err != nil {
		return proc.ResumeContinue, err
	}
	for {
		pkt, err := a.conn.Recv()
		if err != nil {
			return proc.ResumeContinue, err
		}
		a.stats.Packets++
		r := a.dispatch(pkt)
		if r.send {
			if err := a.conn.SendString(r.payload); err != nil {
				return proc.ResumeContinue, err
			}
		}
		if r.exit {
			a.log.Debugf("resuming target (%s)", r.mode)
			return r.mode, nil
		}
	}
}

type reply struct {
	payload string
	send    bool
	exit    bool
	mode    proc.ResumeMode
}

func send(payload string) reply {
	return reply{payload: payload, send: true}
}

func stopReply() string {
	return fmt.Sprintf("S%02x", sigtrap)
}

// dispatch matches pkt against the supported commands, first match wins.
func (a *Agent) dispatch(pkt []byte) reply {
	has := func(prefix string) bool {
		return bytes.HasPrefix(pkt, []byte(prefix))
	}
	switch {
	case has("qSupported"):
		return send(fmt.Sprintf("PacketSize=%x", rsp.MaxPayload))
	case has("H"):
		// single thread, any thread selection is fine
		return send("OK")
	case has("qTStatus"):
		// no tracing
		return send("")
	case has("?"):
		return send(stopReply())
	case has("qfThreadInfo"):
		return send("m1")
	case has("qsThreadInfo"):
		return send("l")
	case has("qAttached"):
		return send("1")
	case has("qC"):
		return send("")
	case has("qOffsets"):
		return send("Text=0;Data=0;Bss=0")
	case has("qSymbol"):
		return send("")
	case has("g"):
		return a.readRegisters()
	case has("m"):
		return a.readMemory(pkt)
	case has("Z"):
		return a.insertBreakpoint(pkt)
	case has("z"):
		return a.removeBreakpoint(pkt)
	case has("p"):
		return send(proc.Unavailable())
	case has("v"):
		return send("")
	case has("D"):
		return reply{payload: "OK", send: true, exit: true, mode: proc.ResumeDetach}
	case has("c"):
		return reply{exit: true, mode: proc.ResumeContinue}
	}
	a.stats.Ignored++
	a.log.Debugf("ignoring unsupported packet %q", pkt)
	return reply{}
}

func (a *Agent) readRegisters() reply {
	regs, err := proc.ReadRegisters(a.frame)
	if err != nil {
		a.log.WithError(err).Error("could not read registers")
		return send(errMemory)
	}
	return send(regs.Hex())
}

func (a *Agent) readMemory(pkt []byte) reply {
	addr, err := parseAddress(pkt, memoryAddrOffset)
	if err != nil {
		a.log.Debug(err)
		return send(errBadPacket)
	}
	word, err := a.mem.ReadWord(addr)
	if err != nil {
		a.log.Debug(err)
		return send(errMemory)
	}
	return send(fmt.Sprintf("%08x", word))
}

func (a *Agent) insertBreakpoint(pkt []byte) reply {
	addr, err := parseAddress(pkt, breakpointAddrOffset)
	if err != nil {
		a.log.Debug(err)
		return send(errBadPacket)
	}
	if _, err := a.bps.Insert(addr); err != nil {
		if errors.Is(err, proc.ErrTableFull) {
			a.log.Warnf("could not set breakpoint at %#08x: %v", addr, err)
			return send(errTableFull)
		}
		a.log.WithError(err).Errorf("could not set breakpoint at %#08x", addr)
		return send(errMemory)
	}
	return send("OK")
}

func (a *Agent) removeBreakpoint(pkt []byte) reply {
	addr, err := parseAddress(pkt, breakpointAddrOffset)
	if err != nil {
		a.log.Debug(err)
		return send(errBadPacket)
	}
	if _, err := a.bps.Remove(addr); err != nil {
		var nbp proc.NoBreakpointError
		if errors.As(err, &nbp) {
			// the host can't do anything about it, memory is left alone
			a.log.Warn(err)
			return send("OK")
		}
		a.log.WithError(err).Errorf("could not clear breakpoint at %#08x", addr)
		return send(errMemory)
	}
	return send("OK")
}
