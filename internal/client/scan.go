package client

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// CodeStream yields raw item codes one at a time, in scan order.
type CodeStream interface {
	Next(ctx context.Context) (string, error)
}

// ReaderStream reads codes line by line, one code per line. Blank lines are
// skipped; io.EOF marks the end of the stream.
type ReaderStream struct {
	scanner *bufio.Scanner
}

func NewReaderStream(r io.Reader) *ReaderStream {
	return &ReaderStream{scanner: bufio.NewScanner(r)}
}

func (s *ReaderStream) Next(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		return line, nil
	}
}
