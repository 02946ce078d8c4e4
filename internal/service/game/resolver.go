package game

import "fmt"

type Variant string

const (
	VariantPoint Variant = "point"
	VariantDuel  Variant = "duel"
	VariantRank  Variant = "rank"
)

type BetType string

const (
	BetPlayer     BetType = "player"
	BetBanker     BetType = "banker"
	BetTie        BetType = "tie"
	BetPlayerPair BetType = "player_pair"
	BetBankerPair BetType = "banker_pair"

	BetDragon    BetType = "dragon"
	BetTiger     BetType = "tiger"
	BetSuitedTie BetType = "suited_tie"

	BetPlayer1 BetType = "player1"
	BetPlayer2 BetType = "player2"
	BetPlayer3 BetType = "player3"
)

// Result tags.
const (
	ResultPlayer = "player"
	ResultBanker = "banker"
	ResultTie    = "tie"
	ResultDragon = "dragon"
	ResultTiger  = "tiger"
)

// Hand is one revealed position.
type Hand struct {
	Name   string `json:"name"`
	Cards  []Card `json:"cards"`
	Points int    `json:"points"`
	Tier   Tier   `json:"tier,omitempty"`
	Score  int64  `json:"score,omitempty"`
}

// Outcome is the resolved round. Immutable once returned.
type Outcome struct {
	Variant    Variant          `json:"variant"`
	Result     string           `json:"result"`
	Hands      []Hand           `json:"hands"`
	PlayerPair bool             `json:"playerPair,omitempty"`
	BankerPair bool             `json:"bankerPair,omitempty"`
	SuitedTie  bool             `json:"suitedTie,omitempty"`
	Wins       map[BetType]bool `json:"wins,omitempty"`

	// Reveal order of every card dealt, used for paced broadcast.
	Reveals []Reveal `json:"-"`
}

type Reveal struct {
	Hand  string `json:"hand"`
	Index int    `json:"index"`
	Card  Card   `json:"card"`
}

func (o *Outcome) hand(name string) *Hand {
	for i := range o.Hands {
		if o.Hands[i].Name == name {
			return &o.Hands[i]
		}
	}
	return nil
}

// Resolver plays one round forward from the shoe.
type Resolver interface {
	Variant() Variant
	// MinCards is the worst-case card count of a single round.
	MinCards() int
	BetTypes() []BetType
	Resolve(d Drawer) (*Outcome, error)
}

func NewResolver(v Variant) (Resolver, error) {
	switch v {
	case VariantPoint:
		return PointResolver{}, nil
	case VariantDuel:
		return DuelResolver{}, nil
	case VariantRank:
		return RankResolver{}, nil
	default:
		return nil, fmt.Errorf("unknown variant %q", v)
	}
}

func IsBetType(r Resolver, t BetType) bool {
	for _, bt := range r.BetTypes() {
		if bt == t {
			return true
		}
	}
	return false
}

// dealer records reveal order while drawing.
type dealer struct {
	d       Drawer
	reveals []Reveal
}

func (dl *dealer) deal(h *Hand) error {
	c, err := dl.d.Draw()
	if err != nil {
		return err
	}
	h.Cards = append(h.Cards, c)
	dl.reveals = append(dl.reveals, Reveal{Hand: h.Name, Index: len(h.Cards) - 1, Card: c})
	return nil
}
