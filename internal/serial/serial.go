// Package serial carries the line-oriented command protocol over a UART,
// typically a Bluetooth SPP module.
package serial

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	goserial "go.bug.st/serial"
)

// MaxLine is the longest accepted command line. Longer input is dropped up
// to the next line ending.
const MaxLine = 128

// Link is a bidirectional text line channel.
type Link interface {
	// Lines delivers received lines without their endings. It is closed
	// when the link shuts down.
	Lines() <-chan string

	// WriteLine sends s followed by CRLF.
	WriteLine(s string) error

	Close() error
}

var ErrClosed = errors.New("serial: link closed")

// Port is a Link on a real serial device.
type Port struct {
	port  goserial.Port
	lines chan string

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Open opens name at baud 8N1 and starts reading lines.
func Open(name string, baud int) (*Port, error) {
	mode := &goserial.Mode{BaudRate: baud, DataBits: 8, Parity: goserial.NoParity, StopBits: goserial.OneStopBit}
	port, err := goserial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	p := &Port{
		port:  port,
		lines: make(chan string, 16),
		done:  make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

func (p *Port) readLoop() {
	defer close(p.lines)

	var lb lineBuffer
	buf := make([]byte, 64)
	for {
		n, err := p.port.Read(buf)
		if err != nil {
			select {
			case <-p.done:
			default:
				log.Printf("serial: read error: %v", err)
			}
			return
		}
		for _, line := range lb.feed(buf[:n]) {
			select {
			case p.lines <- line:
			case <-p.done:
				return
			}
		}
		select {
		case <-p.done:
			return
		default:
		}
	}
}

func (p *Port) Lines() <-chan string { return p.lines }

func (p *Port) WriteLine(s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, err := p.port.Write([]byte(s + "\r\n")); err != nil {
		return fmt.Errorf("write serial: %w", err)
	}
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return p.port.Close()
}

// lineBuffer splits a byte stream on CR or LF. Empty lines are dropped.
type lineBuffer struct {
	buf      []byte
	overflow bool
}

func (lb *lineBuffer) feed(data []byte) []string {
	var out []string
	for _, c := range data {
		switch c {
		case '\r', '\n':
			if !lb.overflow && len(lb.buf) > 0 {
				out = append(out, string(lb.buf))
			}
			lb.buf = lb.buf[:0]
			lb.overflow = false
		default:
			if len(lb.buf) >= MaxLine {
				lb.overflow = true
				continue
			}
			lb.buf = append(lb.buf, c)
		}
	}
	return out
}
