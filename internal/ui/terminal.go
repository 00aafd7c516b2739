package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/webeid-native/webeid-app/internal/pin"
)

// Terminal is a console-based Facade and the only UI backend; it is used
// whatever config.Options.UIBackend holds. PIN entry uses term.ReadPassword
// so digits never echo to the terminal.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

// NewTerminal builds a Terminal facade reading from stdin and writing
// prompts to stderr, keeping stdout reserved for the native-messaging wire.
func NewTerminal() *Terminal {
	return &Terminal{in: bufio.NewReader(os.Stdin), out: os.Stderr, fd: int(os.Stdin.Fd())}
}

func (t *Terminal) Confirm(ctx context.Context, req ConfirmRequest) (ConfirmOutcome, error) {
	if req.PreviousError != "" {
		fmt.Fprintf(t.out, "error: %s\n", req.PreviousError)
	}

	verb := "authenticate"
	if req.Action == ActionSign {
		verb = "sign"
	}
	fmt.Fprintf(t.out, "%s wants you to %s as %s\n", req.Origin, verb, req.CertSubject)
	if req.PinRetriesLeft > 0 && req.PinRetriesLeft < 3 {
		fmt.Fprintf(t.out, "%d PIN attempt(s) remaining\n", req.PinRetriesLeft)
	}
	fmt.Fprint(t.out, "Proceed? [Y/n] ")

	line, err := t.readLineCtx(ctx)
	if err != nil {
		return ConfirmOutcome{}, err
	}
	line = strings.TrimSpace(strings.ToLower(line))
	if line != "" && line != "y" && line != "yes" {
		return ConfirmOutcome{Confirmed: false}, nil
	}

	if !req.NeedsPin {
		return ConfirmOutcome{Confirmed: true}, nil
	}

	pinBuf, err := t.readPin(ctx)
	if err != nil {
		return ConfirmOutcome{}, err
	}
	return ConfirmOutcome{Confirmed: true, PinBuf: pinBuf}, nil
}

func (t *Terminal) readPin(ctx context.Context) (*pin.Buffer, error) {
	fmt.Fprint(t.out, "PIN: ")

	type result struct {
		bytes []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		bytes, err := term.ReadPassword(t.fd)
		done <- result{bytes, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		fmt.Fprintln(t.out)
		if r.err != nil {
			return nil, fmt.Errorf("read PIN: %w", r.err)
		}
		buf := pin.New()
		for _, b := range r.bytes {
			if !buf.Append(b) {
				break
			}
		}
		pin.ClearBytes(r.bytes)
		return buf, nil
	}
}

func (t *Terminal) ChooseCard(ctx context.Context, choices []CardChoice) (int, error) {
	if len(choices) == 1 {
		return 0, nil
	}
	fmt.Fprintln(t.out, "Multiple cards found, choose one:")
	for i, c := range choices {
		fmt.Fprintf(t.out, "  [%d] %s (%s)\n", i+1, c.Subject, c.ReaderName)
	}
	fmt.Fprint(t.out, "> ")

	line, err := t.readLineCtx(ctx)
	if err != nil {
		return 0, err
	}
	var idx int
	if _, err := fmt.Sscanf(strings.TrimSpace(line), "%d", &idx); err != nil || idx < 1 || idx > len(choices) {
		return 0, fmt.Errorf("invalid selection %q", line)
	}
	return idx - 1, nil
}

// Progress renders a one-line status update for the current suspension
// point.
func (t *Terminal) Progress(ev ProgressEvent) {
	switch ev.Kind {
	case ProgressWaitingForReader:
		fmt.Fprintln(t.out, "Waiting for a card reader...")
	case ProgressWaitingForCard:
		fmt.Fprintln(t.out, "Waiting for a card...")
	case ProgressReadingCertificate:
		fmt.Fprintln(t.out, "Reading certificate...")
	case ProgressVerifyingPin:
		fmt.Fprintln(t.out, "Verifying PIN...")
	case ProgressSigning:
		fmt.Fprintln(t.out, "Signing...")
	}
}

func (t *Terminal) ShowError(ctx context.Context, message string) error {
	fmt.Fprintf(t.out, "error: %s\n", message)
	return nil
}

func (t *Terminal) Close() error { return nil }

func (t *Terminal) readLineCtx(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := t.in.ReadString('\n')
		done <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil && r.err != io.EOF {
			return "", r.err
		}
		return r.line, nil
	}
}

var _ Facade = (*Terminal)(nil)
