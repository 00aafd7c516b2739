package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/webeid-native/webeid-app/internal/apperrors"
)

// Name is the closed set of recognized command names.
type Name string

const (
	CommandAuthenticate          Name = "authenticate"
	CommandGetSigningCertificate Name = "get-signing-certificate"
	CommandSign                  Name = "sign"
	CommandStatus                Name = "status"
	CommandQuit                  Name = "quit"
)

var recognizedCommands = map[Name]bool{
	CommandAuthenticate:          true,
	CommandGetSigningCertificate: true,
	CommandSign:                  true,
	CommandStatus:                true,
	CommandQuit:                  true,
}

// AuthenticateArgs holds authenticate's structurally-validated arguments.
// ChallengeNonce length and Origin scheme are validated by the handler.
type AuthenticateArgs struct {
	ChallengeNonce string
	Origin         string
}

// GetSigningCertificateArgs holds get-signing-certificate's arguments.
type GetSigningCertificateArgs struct {
	Origin string
}

// SignArgs holds sign's structurally-validated arguments. HashFunction vs.
// Hash length cross-check happens in the handler.
type SignArgs struct {
	Origin       string
	Hash         string // base64
	HashFunction string
}

// Command is a tagged variant over the fixed command set. At most one of
// the Args fields is populated, selected by Name; status and quit carry
// none.
type Command struct {
	ID   string
	Lang string
	Name Name

	Authenticate          *AuthenticateArgs
	GetSigningCertificate *GetSigningCertificateArgs
	Sign                  *SignArgs
}

// ParseCommand validates the envelope shape and produces a typed Command.
// It never performs semantic validation - only structural: is arguments an
// object, are the expected fields present with the right primitive type.
func ParseCommand(env RequestEnvelope) (Command, error) {
	name := Name(env.Command)
	if !recognizedCommands[name] {
		return Command{}, &apperrors.CommandHandlerInputDataError{
			Field:   "command",
			Message: fmt.Sprintf("unrecognized command %q", env.Command),
		}
	}

	cmd := Command{ID: env.ID, Lang: env.Lang, Name: name}

	switch name {
	case CommandStatus, CommandQuit:
		return cmd, nil
	}

	var rawArgs map[string]json.RawMessage
	if len(env.Arguments) > 0 {
		if err := json.Unmarshal(env.Arguments, &rawArgs); err != nil {
			return Command{}, &apperrors.CommandHandlerInputDataError{
				Field:   "arguments",
				Message: "arguments must be a JSON object",
			}
		}
	}

	switch name {
	case CommandAuthenticate:
		nonce, err := stringField(rawArgs, "challengeNonce")
		if err != nil {
			return Command{}, err
		}
		origin, err := stringField(rawArgs, "origin")
		if err != nil {
			return Command{}, err
		}
		cmd.Authenticate = &AuthenticateArgs{ChallengeNonce: nonce, Origin: origin}

	case CommandGetSigningCertificate:
		origin, err := stringField(rawArgs, "origin")
		if err != nil {
			return Command{}, err
		}
		cmd.GetSigningCertificate = &GetSigningCertificateArgs{Origin: origin}

	case CommandSign:
		origin, err := stringField(rawArgs, "origin")
		if err != nil {
			return Command{}, err
		}
		hash, err := stringField(rawArgs, "hash")
		if err != nil {
			return Command{}, err
		}
		hashFunction, err := stringField(rawArgs, "hashFunction")
		if err != nil {
			return Command{}, err
		}
		cmd.Sign = &SignArgs{Origin: origin, Hash: hash, HashFunction: hashFunction}
	}

	return cmd, nil
}

func stringField(args map[string]json.RawMessage, field string) (string, error) {
	raw, ok := args[field]
	if !ok {
		return "", &apperrors.CommandHandlerInputDataError{
			Field:   field,
			Message: "missing required argument",
		}
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", &apperrors.CommandHandlerInputDataError{
			Field:   field,
			Message: "must be a string",
		}
	}
	return value, nil
}
