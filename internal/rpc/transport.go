// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// transport carries one JSON message per call in each direction.
// stdioTransport frames with newlines; wsTransport with WS text frames.
type transport interface {
	WriteMessage(data []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

// stdioTransport is JSONL over the subprocess pipes: one UTF-8 JSON
// object per \n-terminated line. Lines that exceed maxBytes are
// discarded by the read loop rather than growing the buffer.
type stdioTransport struct {
	mu       sync.Mutex
	w        io.Writer
	r        *bufio.Reader
	maxBytes int
}

func newStdioTransport(r io.Reader, w io.Writer, maxBytes int) *stdioTransport {
	return &stdioTransport{
		w:        w,
		r:        bufio.NewReaderSize(r, 64*1024),
		maxBytes: maxBytes,
	}
}

func (t *stdioTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(data); err != nil {
		return err
	}
	_, err := t.w.Write([]byte{'\n'})
	return err
}

// ReadMessage returns the next line. An overlong line is consumed and
// skipped; the subsequent line is returned instead.
func (t *stdioTransport) ReadMessage() ([]byte, error) {
	for {
		line, tooLong, err := t.readLine()
		if err != nil {
			return nil, err
		}
		if tooLong {
			continue
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

func (t *stdioTransport) readLine() (line []byte, tooLong bool, err error) {
	var buf []byte
	for {
		frag, isPrefix, err := t.r.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if tooLong {
			// already over budget; keep consuming until line end
			if !isPrefix {
				return nil, true, nil
			}
			continue
		}
		buf = append(buf, frag...)
		if len(buf) > t.maxBytes {
			buf = nil
			tooLong = true
			if !isPrefix {
				return nil, true, nil
			}
			continue
		}
		if !isPrefix {
			return buf, false, nil
		}
	}
}

func (t *stdioTransport) Close() error {
	if c, ok := t.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// wsTransport wraps a gorilla websocket connection; all frames are
// JSON text.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func dialWS(rawURL string, timeout time.Duration) (*wsTransport, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("rpc: bad ws url %q: %w", rawURL, err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", rawURL, err)
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
