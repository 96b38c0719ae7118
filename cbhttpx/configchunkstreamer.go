package cbhttpx

import (
	"bytes"
	"io"
	"strings"
)

// configChunkSeparator delimits consecutive JSON documents in a
// streaming config response body.
var configChunkSeparator = []byte("\n\n\n\n")

// ConfigChunkStreamer reads an unbounded sequence of JSON config
// documents from a streaming response body.  Documents are separated by
// a literal four-newline sequence, and any bytes following a separator
// are retained for the next Recv call.  The literal `$HOST` placeholder
// the server emits for its own address is substituted with SourceHostname
// before the document is returned.
type ConfigChunkStreamer struct {
	Reader         io.Reader
	SourceHostname string

	buf     []byte
	readBuf []byte
}

// Recv returns the next complete raw JSON document from the stream.
// It returns io.EOF once the underlying stream terminates with no
// complete document remaining.
func (s *ConfigChunkStreamer) Recv() ([]byte, error) {
	if s.readBuf == nil {
		s.readBuf = make([]byte, 4096)
	}

	for {
		if sepIdx := bytes.Index(s.buf, configChunkSeparator); sepIdx >= 0 {
			doc := s.buf[:sepIdx]
			s.buf = s.buf[sepIdx+len(configChunkSeparator):]

			doc = bytes.TrimSpace(doc)
			if len(doc) == 0 {
				continue
			}

			docStr := strings.ReplaceAll(string(doc), "$HOST", s.SourceHostname)
			return []byte(docStr), nil
		}

		n, err := s.Reader.Read(s.readBuf)
		if n > 0 {
			s.buf = append(s.buf, s.readBuf[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}
