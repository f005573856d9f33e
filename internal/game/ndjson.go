package game

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

const maxLineSize = 1 << 20

// DecodeNDJSON reads newline-delimited JSON games from r and calls fn for
// each one. Blank and malformed lines are skipped. Decoding stops at the
// first error returned by fn.
func DecodeNDJSON(r io.Reader, fn func(Raw) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}

		var raw Raw
		if err := json.Unmarshal(b, &raw); err != nil {
			logrus.WithFields(logrus.Fields{"line": line, "error": err}).Debug("Skipping malformed game line")
			continue
		}
		raw.Source = append([]byte(nil), b...)
		if err := fn(raw); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read game stream: %w", err)
	}
	return nil
}
