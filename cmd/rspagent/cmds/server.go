package cmds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/patmos-dbg/rspagent/pkg/agent"
	"github.com/patmos-dbg/rspagent/pkg/link"
	"github.com/patmos-dbg/rspagent/pkg/logflags"
	"github.com/patmos-dbg/rspagent/pkg/proc"
	"github.com/patmos-dbg/rspagent/pkg/proc/sim"
	"github.com/patmos-dbg/rspagent/pkg/rsp"
)

// server runs debug sessions against an image. Targets live in private
// RAM unless a backing store is attached.
type server struct {
	img    *imageSource
	base   uint32
	entry  uint32
	bpcfg  proc.BreakpointsConfig
	tries  int
	store  targetStore
	closer io.Closer
	log    logflags.Logger
}

// targetStore is target memory provided from outside the process.
type targetStore interface {
	proc.MemoryReadWriter
	Sync() error
}

func newServer(img *imageSource) (*server, error) {
	s := &server{
		img:   img,
		base:  uint32(loadAddr),
		entry: uint32(entry),
		bpcfg: proc.BreakpointsConfig{
			Capacity: conf.BreakpointCapacity,
			Strict:   conf.StrictBreakpoints,
		},
		tries: conf.MaxAttempts,
		log:   logflags.AgentLogger(),
	}
	if memFile != "" {
		store, closer, err := openTargetMemory(memFile, memOffset, memSize, s.base)
		if err != nil {
			return nil, err
		}
		s.store, s.closer = store, closer
	}
	return s, nil
}

// Close releases the backing store, if any.
func (s *server) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.store.Sync()
	if cerr := s.closer.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *server) newTarget() (*sim.Target, error) {
	image := s.img.Image()
	cfg := sim.Config{Base: s.base, Entry: s.entry}
	if s.store == nil {
		return sim.NewTarget(image, cfg)
	}
	mem := sim.NewCachedMemory(s.store)
	n, err := mem.LoadImage(bytes.NewReader(image), s.base)
	if err != nil {
		return nil, fmt.Errorf("could not load image into %s: %w", memFile, err)
	}
	codeEnd := s.base + uint32((n+proc.WordSize-1)&^(proc.WordSize-1))
	return sim.NewTargetOn(s.store, cfg, codeEnd)
}

// Session runs a fresh copy of the image and serves the host on l until
// the program exits, the host detaches or the link goes away.
func (s *server) Session(l rsp.Link) error {
	tgt, err := s.newTarget()
	if err != nil {
		return err
	}
	bps, err := proc.NewBreakpoints(proc.NewCodePatcher(tgt.Mem, tgt.Mem), s.bpcfg)
	if err != nil {
		return err
	}
	conn := rsp.NewConn(l)
	conn.MaxAttempts = s.tries
	a := agent.New(conn, tgt.Mem, bps)

	err = tgt.Run(a)

	ast, cst := a.Stats(), conn.Stats()
	s.log.WithFields(logflags.Fields{
		"stops":     ast.Stops,
		"packets":   ast.Packets,
		"ignored":   ast.Ignored,
		"resends":   cst.Resends,
		"naks":      cst.Naks,
		"bps":       bps.Len(),
		"forgotten": bps.Evicted(),
	}).Info("session ended")

	if errors.Is(err, rsp.ErrLinkClosed) {
		s.log.Infof("host went away")
		return nil
	}
	return err
}

// Serve accepts host connections on listener and serves them one at a
// time until ctx is done.
func (s *server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		c, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.log.Infof("host connected from %s", c.RemoteAddr())
		stopClose := context.AfterFunc(ctx, func() { c.Close() })
		err = s.Session(link.New(c))
		stopClose()
		c.Close()
		if err != nil && ctx.Err() == nil {
			s.log.Errorf("session failed: %v", err)
		}
	}
}
