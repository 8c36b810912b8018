package console

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

var ErrUsage = errors.New("usage error")

// StdinIsTerminal reports whether stdin is attached to a terminal.
func StdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ReadBody returns the event body: data when hasData, otherwise stdin drained
// to EOF. A terminal on stdin without data is a usage error, since there would
// be nothing to read until the operator closes the input.
func ReadBody(data string, hasData bool, stdin io.Reader, isTerminal func() bool) ([]byte, error) {
	if hasData {
		return []byte(data), nil
	}

	if isTerminal != nil && isTerminal() {
		return nil, fmt.Errorf("%w: no data given and stdin is a terminal", ErrUsage)
	}

	body, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}

	return body, nil
}
