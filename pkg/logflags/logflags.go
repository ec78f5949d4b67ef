package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	isatty "github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var agent = false
var rspWire = false
var target = false
var breakpoints = false

var logOut io.WriteCloser

var textFormatterInstance = &logrus.TextFormatter{DisableColors: true}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	logger.Logger.Level = level
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Agent returns true if the command dispatcher should log.
func Agent() bool {
	return agent
}

// AgentLogger returns a logger for the command dispatcher.
func AgentLogger() Logger {
	return makeFlaggableLogger(agent, Fields{"layer": "agent"})
}

// RSPWire returns true if the rsp package should log all the packets
// exchanged with the host.
func RSPWire() bool {
	return rspWire
}

// RSPWireLogger returns a configured logger for the RSP wire protocol.
func RSPWireLogger() Logger {
	return makeFlaggableLogger(rspWire, Fields{"layer": "rspwire"})
}

// Target returns true if the simulated target should log.
func Target() bool {
	return target
}

// TargetLogger returns a logger for the target harness.
func TargetLogger() Logger {
	return makeFlaggableLogger(target, Fields{"layer": "target"})
}

// Breakpoints returns true if code patching should be logged.
func Breakpoints() bool {
	return breakpoints
}

// BreakpointsLogger returns a logger for the breakpoint patch engine.
func BreakpointsLogger() Logger {
	return makeFlaggableLogger(breakpoints, Fields{"layer": "proc", "kind": "breakpoints"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets agent flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "rspagent-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %w", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if isTerminal(logOut) {
		textFormatterInstance.DisableColors = false
	}
	if logstr == "" {
		logstr = "agent"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(logcmd) {
		case "agent":
			agent = true
		case "rspwire":
			rspWire = true
		case "target":
			target = true
		case "breakpoints":
			breakpoints = true
		}
	}
	return nil
}

// isTerminal reports whether w is the terminal logrus writes to when no
// destination is configured.
func isTerminal(w io.Writer) bool {
	if w == nil {
		return isatty.IsTerminal(os.Stderr.Fd())
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd())
	}
	return false
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
