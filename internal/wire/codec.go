// Package wire frames outbound SMTP commands and parses inbound replies,
// including multi-line NNN-/NNN continuations. It owns no socket; callers
// hand it a *bufio.Reader/io.Writer pair.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxLineLength bounds a single reply line; per §4.1 an oversized line is
// truncated, not an error.
const maxLineLength = 1024

// ErrNoResponse signals EOF on a read that expected at least one line.
var ErrNoResponse = errors.New("wire: no response (EOF)")

// ErrTimeout signals a read deadline expiry. Codec itself never sets
// deadlines; it surfaces the underlying net.Error's Timeout() as this
// sentinel so callers can match on it uniformly.
var ErrTimeout = errors.New("wire: read timeout")

// Reply is one logical SMTP reply: possibly several continuation lines,
// always ending on a line whose 4th byte is a space/tab or that is exactly
// 3 digits.
type Reply struct {
	Code int
	Text string   // all lines joined with "\r\n", no trailing CRLF
	Lines []string // individual lines, CRLF stripped, code and continuation marker kept
}

// WriteCommand frames cmd with a trailing CRLF and writes it. Callers
// translate a write error into SendFailed(host) themselves, since only
// they know the host name for the error message.
func WriteCommand(w io.Writer, cmd string) error {
	_, err := io.WriteString(w, cmd+"\r\n")
	return err
}

// ReadReply reads one logical reply off r: every line but the last must
// match "NNN-...", the last must match "NNN " or "NNN\t" or be a bare
// "NNN". Continuation is detected by the byte following the 3-digit code.
func ReadReply(r *bufio.Reader) (Reply, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if len(line) == 0 {
				if errors.Is(err, io.EOF) {
					return Reply{}, ErrNoResponse
				}
				if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
					return Reply{}, ErrTimeout
				}
				return Reply{}, err
			}
			// A partial final line with no trailing newline: treat what we
			// have as the last line rather than discarding it.
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) > maxLineLength {
			line = line[:maxLineLength]
		}
		if len(line) < 3 {
			return Reply{}, fmt.Errorf("wire: reply line too short: %q", line)
		}
		code, convErr := strconv.Atoi(line[:3])
		if convErr != nil {
			return Reply{}, fmt.Errorf("wire: non-numeric reply code in %q", line)
		}
		last := isTerminalLine(line)
		lines = append(lines, line)
		if last {
			return Reply{Code: code, Text: strings.Join(lines, "\r\n"), Lines: lines}, nil
		}
	}
}

// isTerminalLine reports whether line is the final line of a logical
// reply: "NNN-text" is a continuation, "NNN text"/"NNN\ttext"/"NNN" alone
// is terminal.
func isTerminalLine(line string) bool {
	if len(line) == 3 {
		return true
	}
	return line[3] != '-'
}
