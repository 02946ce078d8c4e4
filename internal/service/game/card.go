package game

import (
	"encoding/json"
	"fmt"
)

// Card is a standard playing card.
// Code form: Rank + Suit (e.g., "As", "Td", "2c").
// Ranks: A, 2-9, T, J, Q, K. Suits: s, h, d, c.
type Card struct {
	Rank int // 1 (ace) .. 13 (king)
	Suit byte
}

var suits = [4]byte{'s', 'h', 'd', 'c'}

const rankChars = "A23456789TJQK"

func (c Card) String() string {
	if c.Rank < 1 || c.Rank > 13 {
		return "??"
	}
	return string([]byte{rankChars[c.Rank-1], c.Suit})
}

func ParseCard(code string) (Card, error) {
	if len(code) != 2 {
		return Card{}, fmt.Errorf("invalid card code %q", code)
	}
	rank := 0
	for i := 0; i < len(rankChars); i++ {
		if rankChars[i] == code[0] {
			rank = i + 1
			break
		}
	}
	if rank == 0 {
		return Card{}, fmt.Errorf("invalid card rank in %q", code)
	}
	switch code[1] {
	case 's', 'h', 'd', 'c':
	default:
		return Card{}, fmt.Errorf("invalid card suit in %q", code)
	}
	return Card{Rank: rank, Suit: code[1]}, nil
}

func MustParseCards(codes ...string) []Card {
	cards := make([]Card, len(codes))
	for i, code := range codes {
		c, err := ParseCard(code)
		if err != nil {
			panic(err)
		}
		cards[i] = c
	}
	return cards
}

func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Card) UnmarshalJSON(data []byte) error {
	var code string
	if err := json.Unmarshal(data, &code); err != nil {
		return err
	}
	parsed, err := ParseCard(code)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// PointValue is the baccarat value: A=1, 2-9 face, T/J/Q/K=0.
func (c Card) PointValue() int {
	if c.Rank >= 10 {
		return 0
	}
	return c.Rank
}

// BurnValue is the count of extra cards burned when c is the burn card.
func (c Card) BurnValue() int {
	if c.Rank >= 10 {
		return 10
	}
	return c.Rank
}

func pointTotal(cards []Card) int {
	total := 0
	for _, c := range cards {
		total += c.PointValue()
	}
	return total % 10
}

func cardCodes(cards []Card) []string {
	codes := make([]string, len(cards))
	for i, c := range cards {
		codes[i] = c.String()
	}
	return codes
}

func newDecks(decks int) []Card {
	cards := make([]Card, 0, decks*52)
	for d := 0; d < decks; d++ {
		for _, s := range suits {
			for r := 1; r <= 13; r++ {
				cards = append(cards, Card{Rank: r, Suit: s})
			}
		}
	}
	return cards
}
