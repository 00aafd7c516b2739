// Package controller implements the command controller state machine:
// for each incoming native-messaging request it drives card
// discovery, certificate selection, user confirmation, PIN entry, and the
// command's cryptographic operation, then writes exactly one response
// frame.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/webeid-native/webeid-app/internal/apperrors"
	"github.com/webeid-native/webeid-app/internal/audit"
	"github.com/webeid-native/webeid-app/internal/card"
	"github.com/webeid-native/webeid-app/internal/config"
	"github.com/webeid-native/webeid-app/internal/pin"
	"github.com/webeid-native/webeid-app/internal/protocol"
	"github.com/webeid-native/webeid-app/internal/ui"
	"github.com/webeid-native/webeid-app/internal/wire"
	"github.com/webeid-native/webeid-app/internal/worker"
)

// readerPollInterval bounds how long WaitingForReader sleeps between
// ListReaders polls while a wait-for-reader timeout is still open.
const readerPollInterval = 250 * time.Millisecond

// Controller owns the single run-worker and the long-lived card-event
// monitor; it never starts a second run-worker while one is active, which
// is structurally guaranteed here by Run's single-goroutine dispatch loop.
type Controller struct {
	facade  card.Facade
	ui      ui.Facade
	opts    config.Options
	audit   *audit.Logger
	logger  *zap.Logger
	monitor *worker.CardEventMonitor

	state State
}

// New builds a Controller. monitor may be nil, in which case card-removal
// during RunningHandler is only detected when the in-flight sign/read call
// itself fails with a ReasonCardRemoved retriable error.
func New(facade card.Facade, uiFacade ui.Facade, opts config.Options, auditLogger *audit.Logger, logger *zap.Logger, monitor *worker.CardEventMonitor) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{facade: facade, ui: uiFacade, opts: opts, audit: auditLogger, logger: logger, monitor: monitor, state: StateIdle}
}

// Run reads request frames from r and writes response frames to w until r
// is exhausted, a quit command is processed, or a framing error occurs.
func (c *Controller) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	for {
		body, err := wire.ReadFrame(r, wire.MaxRequestSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("framing error reading request", zap.Error(err))
			_ = wire.WriteFrame(w, mustMarshal(protocol.NewErrorResponse("", apperrors.CodeInvalidArgument, "malformed request frame")))
			return &apperrors.FramingError{Err: err}
		}

		var env protocol.RequestEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			c.logger.Error("malformed request envelope", zap.Error(err))
			_ = wire.WriteFrame(w, mustMarshal(protocol.NewErrorResponse("", apperrors.CodeInvalidArgument, "malformed request")))
			return &apperrors.FramingError{Err: err}
		}

		resp := c.dispatch(ctx, env)

		respBytes, err := json.Marshal(resp)
		if err != nil {
			return &apperrors.FramingError{Err: err}
		}
		if err := wire.WriteFrame(w, respBytes); err != nil {
			return &apperrors.FramingError{Err: err}
		}

		if c.state == StateExited {
			return nil
		}
		c.state = StateIdle
	}
}

func (c *Controller) dispatch(ctx context.Context, env protocol.RequestEnvelope) protocol.ResponseEnvelope {
	cmd, err := protocol.ParseCommand(env)
	if err != nil {
		return errorResponse(env.ID, err)
	}

	switch cmd.Name {
	case protocol.CommandStatus:
		return c.handleStatus(cmd)
	case protocol.CommandQuit:
		return c.handleQuit(cmd)
	}

	handler, ok := handlerFor(cmd.Name)
	if !ok {
		return errorResponse(env.ID, &apperrors.ProgrammingError{Message: fmt.Sprintf("no handler registered for %s", cmd.Name)})
	}

	value, err := c.runCommandFlow(ctx, handler, cmd)
	c.logOutcome(cmd, err)
	if err != nil {
		c.state = StateFailingTerminal
		return errorResponse(env.ID, err)
	}
	c.state = StateWriting
	return protocol.NewSuccessResponse(env.ID, value)
}

func (c *Controller) handleStatus(cmd protocol.Command) protocol.ResponseEnvelope {
	return protocol.NewSuccessResponse(cmd.ID, statusPayload{
		Version:   config.AppVersion,
		NativeApp: "webeid-app",
	})
}

func (c *Controller) handleQuit(cmd protocol.Command) protocol.ResponseEnvelope {
	if c.monitor != nil {
		c.monitor.Stop()
	}
	c.state = StateExited
	return protocol.NewSuccessResponse(cmd.ID, struct{}{})
}

type statusPayload struct {
	Version   string `json:"version"`
	Extension string `json:"extension,omitempty"`
	NativeApp string `json:"nativeApp"`
}

// runCommandFlow drives WaitingForReader through Writing for one
// card-backed command.
func (c *Controller) runCommandFlow(ctx context.Context, handler Handler, cmd protocol.Command) (any, error) {
	if err := handler.Validate(cmd); err != nil {
		return nil, err
	}

	c.state = StateWaitingForReader
	c.progress(ui.ProgressWaitingForReader)
	if err := c.waitForReader(ctx); err != nil {
		return nil, err
	}

	c.state = StateWaitingForCard
	c.progress(ui.ProgressWaitingForCard)
	cardInfo, err := c.waitForCard(ctx)
	if err != nil {
		return nil, err
	}

	c.state = StateReadingCertificate
	c.progress(ui.ProgressReadingCertificate)
	certInfo, err := c.selectCertificate(ctx, handler, cardInfo)
	if err != nil {
		return nil, err
	}

	return c.confirmAndRun(ctx, handler, cmd, certInfo)
}

// selectCertificate reads the certificate for cardInfo, the card
// waitForCard settled on. If other readers concurrently report a card
// present, it instead reads every candidate's certificate for handler's
// purpose and lets the UI choose among them.
func (c *Controller) selectCertificate(ctx context.Context, handler Handler, cardInfo card.CardInfo) (card.CardCertificateAndPin, error) {
	candidates, err := c.facade.CandidateCards(ctx)
	if err != nil || len(candidates) <= 1 {
		return c.facade.ReadCertificates(ctx, cardInfo, handler.Purpose())
	}

	certs := make([]card.CardCertificateAndPin, 0, len(candidates))
	choices := make([]ui.CardChoice, 0, len(candidates))
	for _, cand := range candidates {
		cert, err := c.facade.ReadCertificates(ctx, cand, handler.Purpose())
		if err != nil {
			continue
		}
		certs = append(certs, cert)
		choices = append(choices, ui.CardChoice{ReaderName: cand.ReaderName, Subject: cert.Subject})
	}

	switch len(certs) {
	case 0:
		return c.facade.ReadCertificates(ctx, cardInfo, handler.Purpose())
	case 1:
		return certs[0], nil
	}

	idx, err := c.ui.ChooseCard(ctx, choices)
	if err != nil {
		return card.CardCertificateAndPin{}, &apperrors.TerminalError{Reason: apperrors.ReasonUserCancelled, Err: err}
	}
	if idx < 0 || idx >= len(certs) {
		return card.CardCertificateAndPin{}, &apperrors.ProgrammingError{Message: "card chooser returned out-of-range index"}
	}
	return certs[idx], nil
}

func (c *Controller) confirmAndRun(ctx context.Context, handler Handler, cmd protocol.Command, certInfo card.CardCertificateAndPin) (any, error) {
	previousErr := ""
	for {
		c.state = StateConfirmingWithUser
		outcome, err := c.ui.Confirm(ctx, ui.ConfirmRequest{
			Action:         actionFor(cmd.Name),
			Origin:         originFor(cmd),
			CertSubject:    certInfo.Subject,
			Lang:           cmd.Lang,
			NeedsPin:       handler.RequiresPin() && !certInfo.IsPinPadReader,
			PinRetriesLeft: certInfo.PinRetriesLeft,
			PreviousError:  previousErr,
		})
		if err != nil {
			return nil, &apperrors.TerminalError{Reason: apperrors.ReasonUserCancelled, Err: err}
		}
		if !outcome.Confirmed {
			if outcome.PinBuf != nil {
				outcome.PinBuf.Zeroize()
			}
			return nil, &apperrors.TerminalError{Reason: apperrors.ReasonUserCancelled}
		}
		if !handler.RequiresPin() && outcome.PinBuf != nil {
			outcome.PinBuf.Zeroize()
			outcome.PinBuf = nil
		}

		c.state = StateRunningHandler
		if handler.RequiresPin() {
			c.progress(ui.ProgressVerifyingPin)
		} else {
			c.progress(ui.ProgressSigning)
		}
		value, err := c.runHandler(ctx, handler, cmd, certInfo, outcome.PinBuf, certInfo.Card.ReaderName)
		// The facade wipes the buffer when the sign call consumes it, but a
		// handler can fail before reaching that call; wipe again here so
		// every exit below leaves no PIN bytes behind. Zeroize is idempotent.
		if outcome.PinBuf != nil {
			outcome.PinBuf.Zeroize()
		}
		if err == nil {
			return value, nil
		}

		var retriable *apperrors.RetriableError
		if !errors.As(err, &retriable) {
			return nil, err
		}

		if retriable.Reason == apperrors.ReasonWrongPin {
			if retriable.RetriesLeft == 0 {
				return nil, apperrors.PromoteWrongPin(retriable)
			}
			certInfo.PinRetriesLeft = retriable.RetriesLeft
		}

		if retriable.Reason == apperrors.ReasonCardRemoved {
			c.state = StateWaitingForCard
			newCard, werr := c.waitForCard(ctx)
			if werr != nil {
				return nil, werr
			}
			// A CardInfo with the same reader and generation as the one in
			// use needs no re-read; anything else - a different reader, or
			// a fresh description of a card in the same reader - does.
			if !newCard.SameCard(certInfo.Card) {
				refreshed, rerr := c.facade.ReadCertificates(ctx, newCard, handler.Purpose())
				if rerr != nil {
					return nil, rerr
				}
				certInfo = refreshed
			} else {
				certInfo.Card = newCard
			}
		}

		if showErr := c.ui.ShowError(ctx, retriable.Error()); showErr != nil {
			return nil, &apperrors.TerminalError{Reason: apperrors.ReasonUserCancelled, Err: showErr}
		}
		previousErr = retriable.Error()
	}
}

// runHandler executes handler.Run on a run-worker, racing it against the
// card-event monitor's notifications for the reader the active card lives
// on; a removal cancels the worker's context, which the facade observes at
// its next cancellation check.
func (c *Controller) runHandler(ctx context.Context, handler Handler, cmd protocol.Command, certInfo card.CardCertificateAndPin, pinBuf *pin.Buffer, readerName string) (any, error) {
	deps := HandlerDeps{Facade: c.facade, AppVersion: config.AppVersion}

	h := worker.Run(ctx, func(workerCtx context.Context) (any, error) {
		return handler.Run(workerCtx, deps, cmd, certInfo, pinBuf)
	})

	if c.monitor == nil {
		r := <-h.Done()
		return r.Value, r.Err
	}

	events := c.monitor.Events()
	for {
		select {
		case r := <-h.Done():
			return r.Value, r.Err
		case change, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if change.Kind == card.CardRemoved && change.ReaderName == readerName {
				h.Cancel()
			}
		}
	}
}

func (c *Controller) waitForReader(ctx context.Context) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, c.opts.WaitForReaderTimeout)
	defer cancel()

	for {
		readers, err := c.facade.ListReaders(deadlineCtx)
		if err != nil {
			return err
		}
		if len(readers) > 0 {
			return nil
		}
		select {
		case <-deadlineCtx.Done():
			return &apperrors.RetriableError{Reason: apperrors.ReasonNoReader, Err: deadlineCtx.Err()}
		case <-time.After(readerPollInterval):
		}
	}
}

func (c *Controller) waitForCard(ctx context.Context) (card.CardInfo, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, c.opts.WaitForCardTimeout)
	defer cancel()

	info, err := c.facade.WaitForCard(deadlineCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return card.CardInfo{}, &apperrors.RetriableError{Reason: apperrors.ReasonNoCard, Err: err}
		}
		return card.CardInfo{}, err
	}
	return info, nil
}

func (c *Controller) logOutcome(cmd protocol.Command, err error) {
	if c.audit == nil {
		return
	}
	status, code, reason := "SUCCESS", "", ""
	if err != nil {
		var retriable *apperrors.RetriableError
		var terminal *apperrors.TerminalError
		switch {
		case errors.As(err, &terminal):
			status, code, reason = "TERMINAL_ERROR", string(terminal.Code()), string(terminal.Reason)
		case errors.As(err, &retriable):
			status, code, reason = "RETRIABLE_ERROR", string(retriable.Code()), string(retriable.Reason)
		default:
			status, code = "TERMINAL_ERROR", string(apperrors.CodeProgrammingError)
		}
	}
	if logErr := c.audit.Log(string(cmd.Name), status, code, reason, ""); logErr != nil {
		c.logger.Warn("audit log write failed", zap.Error(logErr))
	}
}

// progress forwards a suspension-point update to UI backends that render
// them; others silently skip it.
func (c *Controller) progress(kind ui.ProgressKind) {
	if sink, ok := c.ui.(ui.ProgressSink); ok {
		sink.Progress(ui.ProgressEvent{Kind: kind})
	}
}

func actionFor(name protocol.Name) ui.Action {
	if name == protocol.CommandSign {
		return ui.ActionSign
	}
	return ui.ActionAuthenticate
}

func originFor(cmd protocol.Command) string {
	switch cmd.Name {
	case protocol.CommandAuthenticate:
		return cmd.Authenticate.Origin
	case protocol.CommandGetSigningCertificate:
		return cmd.GetSigningCertificate.Origin
	case protocol.CommandSign:
		return cmd.Sign.Origin
	default:
		return ""
	}
}

func errorResponse(id string, err error) protocol.ResponseEnvelope {
	var chErr *apperrors.CommandHandlerInputDataError
	var progErr *apperrors.ProgrammingError
	var retriable *apperrors.RetriableError
	var terminal *apperrors.TerminalError

	switch {
	case errors.As(err, &chErr):
		return protocol.NewErrorResponse(id, chErr.Code(), chErr.Error())
	case errors.As(err, &progErr):
		return protocol.NewErrorResponse(id, progErr.Code(), progErr.Error())
	case errors.As(err, &terminal):
		return protocol.NewErrorResponse(id, terminal.Code(), terminal.Error())
	case errors.As(err, &retriable):
		return protocol.NewErrorResponse(id, retriable.Code(), retriable.Error())
	default:
		return protocol.NewErrorResponse(id, apperrors.CodeProgrammingError, err.Error())
	}
}

func mustMarshal(resp protocol.ResponseEnvelope) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"error":{"code":"ERR_WEBEID_NATIVE_PROGRAMMING_ERROR","message":"response marshal failed"}}`)
	}
	return b
}
