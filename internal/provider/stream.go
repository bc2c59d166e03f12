// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// MaxEventSize is the maximum allowed size for a single event line (64KB).
const MaxEventSize = 64 * 1024

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader handles line-by-line JSON parsing of an event stream.
type StreamReader struct {
	reader *bufio.Reader
	closer io.Closer

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	content   strings.Builder
	reasoning strings.Builder

	lastSeq    int64
	tokenCount int
	stats      *StreamStats
	done       bool
}

// NewStreamReader creates a stream reader from an io.Reader. If r also
// implements io.Closer it is closed when the stream terminates.
func NewStreamReader(r io.Reader) *StreamReader {
	sr := &StreamReader{
		reader: bufio.NewReaderSize(r, 16*1024),
		stats:  NewStreamStats(),
	}
	if c, ok := r.(io.Closer); ok {
		sr.closer = c
	}
	return sr
}

// Process reads the stream and calls the callback for each event, in arrival
// order. It blocks until a terminal event, EOF, or context cancellation.
// Cancellation is cooperative: the context is checked between event reads.
//
// On a mid-stream transport failure the returned error is a *StreamError
// carrying the content accumulated so far.
func (s *StreamReader) Process(ctx context.Context, callback EventCallback) error {
	defer s.close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			event, err := s.readEvent()
			if err != nil {
				if errors.Is(err, io.EOF) {
					// Stream ended without a done event: the transport
					// dropped mid-generation.
					if !s.done {
						return &StreamError{Partial: s.content.String(), Err: io.ErrUnexpectedEOF}
					}
					return nil
				}
				return &StreamError{Partial: s.content.String(), Err: err}
			}

			if event == nil {
				continue // blank or malformed line
			}

			s.apply(*event)
			callback(*event)

			if event.IsTerminal() {
				s.done = true
				return nil
			}
		}
	}
}

// readEvent reads and parses a single line from the stream.
func (s *StreamReader) readEvent() (*Event, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if len(line) == 0 {
			return nil, err
		}
		// Process the trailing line even on EOF.
	}

	line = trimLine(line)
	if len(line) == 0 {
		return nil, nil
	}
	if len(line) > MaxEventSize {
		return nil, nil
	}

	var event Event
	if err := json.Unmarshal(line, &event); err != nil {
		// Skip malformed lines rather than killing the stream.
		return nil, nil
	}
	return &event, nil
}

// apply folds an event into the reader's accumulated state.
func (s *StreamReader) apply(event Event) {
	if event.Seq > s.lastSeq {
		s.lastSeq = event.Seq
	}

	switch event.Type {
	case EventText:
		if event.Delta != "" {
			if s.content.Len() == 0 {
				s.stats.RecordFirstToken()
			}
			s.content.WriteString(event.Delta)
			s.tokenCount++
		}
	case EventReasoning:
		s.reasoning.WriteString(event.Delta)
	case EventDone:
		// A done event after server-side completion carries the full final
		// content instead of deltas.
		if event.FinalContent != "" && s.content.Len() == 0 {
			s.content.WriteString(event.FinalContent)
		}
		s.stats.Finalize(event)
	}
}

// close releases the underlying transport, if owned.
func (s *StreamReader) close() {
	if s.closer != nil {
		s.closer.Close()
		s.closer = nil
	}
}

// Content returns all accumulated answer text.
func (s *StreamReader) Content() string {
	return s.content.String()
}

// Reasoning returns all accumulated reasoning text.
func (s *StreamReader) Reasoning() string {
	return s.reasoning.String()
}

// LastSeq returns the highest event sequence number applied. This is the
// offset a resume request sends back to the server.
func (s *StreamReader) LastSeq() int64 {
	return s.lastSeq
}

// TokenCount returns the number of text deltas received.
func (s *StreamReader) TokenCount() int {
	return s.tokenCount
}

// Stats returns the timing statistics collected so far.
func (s *StreamReader) Stats() *StreamStats {
	return s.stats
}

// trimLine strips trailing CR/LF without allocating.
func trimLine(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
