// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"sync"
	"time"
)

// Codex's TUI reliably submits a line only when CR and LF arrive as
// separate writes with a small beat between "type" and "enter"; a
// plain "\r\n" write is frequently swallowed. codexWriteQueue
// serializes writes per session and re-paces every \r it sees into
// <text> <sleep> \r <sleep> \n.
const (
	codexPreEnterDelay  = 15 * time.Millisecond
	codexPostEnterDelay = 25 * time.Millisecond
)

type codexWriteQueue struct {
	mu      sync.Mutex
	pending [][]byte
	draining bool
	writeFn func([]byte) error
}

func newCodexWriteQueue(writeFn func([]byte) error) *codexWriteQueue {
	return &codexWriteQueue{writeFn: writeFn}
}

// enqueue adds data to the queue and starts the drain worker if it is
// not already running. Safe to call concurrently.
func (q *codexWriteQueue) enqueue(data []byte) {
	q.mu.Lock()
	q.pending = append(q.pending, data)
	alreadyDraining := q.draining
	q.draining = true
	q.mu.Unlock()

	if !alreadyDraining {
		go q.drain()
	}
}

// drain processes queued writes until the queue is empty, re-checking
// after each batch so late arrivals during a slow pacing sequence are
// not left stranded.
func (q *codexWriteQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		for _, data := range batch {
			q.writePaced(data)
		}
	}
}

// writePaced splits data on \r, writing the preceding text immediately,
// then the \r and \n as separate, delayed writes. A trailing \n right
// after the \r (i.e. the caller already sent CRLF) is skipped, since the
// pacing below supplies its own.
func (q *codexWriteQueue) writePaced(data []byte) {
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\r')
		if idx < 0 {
			q.writeFn(data)
			return
		}

		if idx > 0 {
			q.writeFn(data[:idx])
		}
		time.Sleep(codexPreEnterDelay)
		q.writeFn([]byte{'\r'})
		time.Sleep(codexPostEnterDelay)
		q.writeFn([]byte{'\n'})

		rest := data[idx+1:]
		if len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}
		data = rest
	}
}
