package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"table-service/internal/service/bet"
	"table-service/internal/service/game"

	"github.com/go-playground/validator/v10"
)

// Inbound command tags.
const (
	CmdSubmitBet = "submit_bet"
	CmdClearBets = "clear_bets"
	CmdGetState  = "get_state"
	CmdPing      = "ping"
)

var ErrInvalidCommand = errors.New("invalid command")

var validate = validator.New()

type frame struct {
	Type string          `json:"type" validate:"required,oneof=submit_bet clear_bets get_state ping"`
	Data json.RawMessage `json:"data"`
}

type Command interface {
	command() string
}

type BetEntry struct {
	Type   string `json:"type" validate:"required,max=32"`
	Amount int64  `json:"amount" validate:"gt=0"`
}

type SubmitBet struct {
	Entries      []BetEntry `json:"entries" validate:"required,min=1,max=16,dive"`
	NoCommission bool       `json:"noCommission"`
}

type ClearBets struct{}

type GetState struct{}

type Ping struct{}

func (SubmitBet) command() string { return CmdSubmitBet }
func (ClearBets) command() string { return CmdClearBets }
func (GetState) command() string  { return CmdGetState }
func (Ping) command() string      { return CmdPing }

// LedgerEntries converts the wire entries for the ledger.
func (s SubmitBet) LedgerEntries() []bet.Entry {
	out := make([]bet.Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, bet.Entry{Type: game.BetType(e.Type), Amount: e.Amount})
	}
	return out
}

// Decode parses and validates one client frame.
func Decode(raw []byte) (Command, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, f.Type)
	}

	switch f.Type {
	case CmdSubmitBet:
		var cmd SubmitBet
		if len(f.Data) == 0 {
			return nil, fmt.Errorf("%w: submit_bet needs data", ErrInvalidCommand)
		}
		if err := json.Unmarshal(f.Data, &cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		if err := validate.Struct(cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		return cmd, nil
	case CmdClearBets:
		return ClearBets{}, nil
	case CmdGetState:
		return GetState{}, nil
	default:
		return Ping{}, nil
	}
}
