package client

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ReadSecret prints prompt to stderr and reads one line from stdin. On a
// terminal the input is not echoed. Piped input is read as a plain line so
// scripts can feed secrets in.
func ReadSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(b), nil
	}
	return readLine(os.Stdin)
}

// ReadNewSecret asks for a secret twice and fails when the entries differ.
func ReadNewSecret(prompt string) (string, error) {
	first, err := ReadSecret(prompt)
	if err != nil {
		return "", err
	}
	second, err := ReadSecret("Repeat " + strings.ToLower(prompt))
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("entries do not match")
	}
	return first, nil
}

// readLine reads a byte at a time so that consecutive prompts on the same
// pipe do not lose buffered input.
func readLine(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n == 1 {
			if buf[0] == '\n' {
				break
			}
			sb.WriteByte(buf[0])
			continue
		}
		if errors.Is(err, io.EOF) && sb.Len() > 0 {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
	}
	return strings.TrimSuffix(sb.String(), "\r"), nil
}
