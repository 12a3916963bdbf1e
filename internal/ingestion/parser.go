package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"PairLedger/internal/core"
	"PairLedger/internal/types"

	"github.com/google/uuid"
)

// CommandSubjectPrefix is the subject root for inbound commands:
// pair.commands.{kind}.
const CommandSubjectPrefix = "pair.commands."

// commandNamespace derives stable command IDs from idempotency keys so
// that redeliveries carry the same ID.
var commandNamespace = uuid.MustParse("6f1d3c2a-8e4b-5a7d-9c0e-1b2f3a4d5e6f")

var ErrBadSubject = errors.New("bad command subject")

// commandJSON is the wire format published by upstream producers.
// Field names use snake_case.
type commandJSON struct {
	CommandID      string          `json:"command_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Kind           string          `json:"kind,omitempty"`
	Pair           string          `json:"pair,omitempty"`
	Sender         string          `json:"sender"`
	Nonce          uint64          `json:"nonce"`
	BlockTime      uint64          `json:"block_time,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// KindFromSubject extracts the command kind from pair.commands.{kind}.
func KindFromSubject(subject string) (core.Kind, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok || rest == "" || strings.Contains(rest, ".") {
		return "", fmt.Errorf("%w: %q", ErrBadSubject, subject)
	}
	k := core.Kind(rest)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrBadSubject, rest)
	}
	return k, nil
}

// CommandSubject is the subject a command of the given kind is published on.
func CommandSubject(kind core.Kind) string {
	return CommandSubjectPrefix + string(kind)
}

// ParseRawCommand converts a message into a validated core.Command. The
// kind comes from the subject; a kind in the body must agree with it.
func ParseRawCommand(raw RawCommand) (core.Command, error) {
	kind, err := KindFromSubject(raw.Subject)
	if err != nil {
		return core.Command{}, err
	}
	return ParseCommand(kind, raw.Data)
}

// ParseCommand decodes a JSON command body for kind.
func ParseCommand(kind core.Kind, data []byte) (core.Command, error) {
	var j commandJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&j); err != nil {
		return core.Command{}, fmt.Errorf("parse %s: %w", kind, err)
	}
	if j.Kind != "" && core.Kind(j.Kind) != kind {
		return core.Command{}, fmt.Errorf("parse %s: body kind %q disagrees with subject", kind, j.Kind)
	}

	sender, err := types.HexToAddress(j.Sender)
	if err != nil {
		return core.Command{}, fmt.Errorf("parse sender: %w", err)
	}

	id := uuid.NewSHA1(commandNamespace, []byte(string(kind)+":"+j.IdempotencyKey))
	if j.CommandID != "" {
		if id, err = uuid.Parse(j.CommandID); err != nil {
			return core.Command{}, fmt.Errorf("parse command_id: %w", err)
		}
	}

	cmd := core.Command{
		ID:             id,
		IdempotencyKey: j.IdempotencyKey,
		Kind:           kind,
		Pair:           j.Pair,
		Sender:         sender,
		Nonce:          j.Nonce,
		BlockTime:      j.BlockTime,
		Payload:        j.Payload,
	}
	if err := cmd.Validate(); err != nil {
		return core.Command{}, err
	}
	return cmd, nil
}
