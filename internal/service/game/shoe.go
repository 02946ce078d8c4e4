package game

import (
	"fmt"
	"math/rand"

	appErr "table-service/pkg/errors"
)

// Drawer hands out cards in shoe order.
type Drawer interface {
	Draw() (Card, error)
}

// Shoe is a shuffled multi-deck sequence owned by one table.
// cards[0] is the next card to be dealt.
type Shoe struct {
	Number int64
	Decks  int
	cards  []Card
	burned []Card
}

// NewShoe shuffles decks*52 cards and burns before the first round:
// the first card is turned, then as many more as its burn value are discarded.
func NewShoe(number int64, decks int, rng *rand.Rand) *Shoe {
	if decks <= 0 {
		decks = 1
	}
	cards := newDecks(decks)
	rng.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
	s := &Shoe{Number: number, Decks: decks, cards: cards}
	s.burn()
	return s
}

// RestoreShoe resumes a persisted shoe with its exact remaining sequence.
func RestoreShoe(number int64, decks int, codes []string) (*Shoe, error) {
	cards := make([]Card, 0, len(codes))
	for _, code := range codes {
		c, err := ParseCard(code)
		if err != nil {
			return nil, fmt.Errorf("restore shoe %d: %w", number, err)
		}
		cards = append(cards, c)
	}
	return &Shoe{Number: number, Decks: decks, cards: cards}, nil
}

func (s *Shoe) burn() {
	if len(s.cards) == 0 {
		return
	}
	first := s.cards[0]
	n := 1 + first.BurnValue()
	if n > len(s.cards) {
		n = len(s.cards)
	}
	s.burned = append([]Card(nil), s.cards[:n]...)
	s.cards = s.cards[n:]
}

func (s *Shoe) Draw() (Card, error) {
	if len(s.cards) == 0 {
		return Card{}, fmt.Errorf("%w: shoe %d", appErr.ErrShoeExhausted, s.Number)
	}
	c := s.cards[0]
	s.cards = s.cards[1:]
	return c, nil
}

func (s *Shoe) Remaining() int {
	return len(s.cards)
}

// Burned returns the cards discarded when the shoe was opened.
func (s *Shoe) Burned() []Card {
	return append([]Card(nil), s.burned...)
}

// Codes returns the remaining sequence for persistence.
func (s *Shoe) Codes() []string {
	return cardCodes(s.cards)
}

// NeedsReplace reports whether the shoe cannot cover one more round.
func (s *Shoe) NeedsReplace(minCards int) bool {
	return len(s.cards) < minCards
}
