package game

import "sort"

// Tier orders the pair/triple decompositions of a five-card hand.
type Tier int

const (
	TierNone Tier = iota
	TierPair
	TierTwoPair
	TierTriple
	TierFullHouse
	TierQuads
)

func (t Tier) String() string {
	switch t {
	case TierPair:
		return "pair"
	case TierTwoPair:
		return "two_pair"
	case TierTriple:
		return "triple"
	case TierFullHouse:
		return "full_house"
	case TierQuads:
		return "quads"
	default:
		return "none"
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	for candidate := TierNone; candidate <= TierQuads; candidate++ {
		if candidate.String() == string(text) {
			*t = candidate
			return nil
		}
	}
	*t = TierNone
	return nil
}

const rankHandSize = 5

var rankPositions = []string{ResultBanker, string(BetPlayer1), string(BetPlayer2), string(BetPlayer3)}

// RankResolver plays the four-hand ranked-pair game. Each player hand is
// compared against the banker; exact ties go to the banker.
type RankResolver struct{}

func (RankResolver) Variant() Variant { return VariantRank }

func (RankResolver) MinCards() int { return rankHandSize * len(rankPositions) }

func (RankResolver) BetTypes() []BetType {
	return []BetType{BetPlayer1, BetPlayer2, BetPlayer3}
}

func (RankResolver) Resolve(d Drawer) (*Outcome, error) {
	hands := make([]Hand, len(rankPositions))
	for i, name := range rankPositions {
		hands[i] = Hand{Name: name, Cards: make([]Card, 0, rankHandSize)}
	}
	dl := &dealer{d: d}
	for round := 0; round < rankHandSize; round++ {
		for i := range hands {
			if err := dl.deal(&hands[i]); err != nil {
				return nil, err
			}
		}
	}

	for i := range hands {
		tier, score := EvaluateRankHand(hands[i].Cards)
		hands[i].Tier = tier
		hands[i].Score = score
		hands[i].Points = pointTotal(hands[i].Cards)
	}

	out := &Outcome{
		Variant: VariantRank,
		Hands:   hands,
		Wins:    make(map[BetType]bool, len(rankPositions)-1),
		Reveals: dl.reveals,
	}
	banker := hands[0]
	playerWins := 0
	for _, h := range hands[1:] {
		won := h.Score > banker.Score
		out.Wins[BetType(h.Name)] = won
		if won {
			playerWins++
		}
	}
	if playerWins*2 > len(hands)-1 {
		out.Result = ResultPlayer
	} else {
		out.Result = ResultBanker
	}
	return out, nil
}

// comparison rank with aces high
func highRank(c Card) int {
	if c.Rank == 1 {
		return 14
	}
	return c.Rank
}

// EvaluateRankHand scores a five-card hand. Higher scores win. Score tiers:
//
//	tier * 10,000,000        -> decomposition tier
//	group rank * 1,000       -> rank of the triple/pairs in the tier
//	points * 100 + high card -> plain point total, then single-card rank
func EvaluateRankHand(cards []Card) (Tier, int64) {
	counts := make(map[int]int, len(cards))
	high := 0
	for _, c := range cards {
		r := highRank(c)
		counts[r]++
		if r > high {
			high = r
		}
	}

	var quads, triples, pairs []int
	for r, n := range counts {
		switch {
		case n >= 4:
			quads = append(quads, r)
		case n == 3:
			triples = append(triples, r)
		case n == 2:
			pairs = append(pairs, r)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(pairs)))

	tier := TierNone
	group := 0
	switch {
	case len(quads) > 0:
		tier, group = TierQuads, quads[0]
	case len(triples) > 0 && len(pairs) > 0:
		tier, group = TierFullHouse, triples[0]*15+pairs[0]
	case len(triples) > 0:
		tier, group = TierTriple, triples[0]
	case len(pairs) >= 2:
		tier, group = TierTwoPair, pairs[0]*15+pairs[1]
	case len(pairs) == 1:
		tier, group = TierPair, pairs[0]
	}

	score := int64(tier)*10_000_000 + int64(group)*1_000 + int64(pointTotal(cards))*100 + int64(high)
	return tier, score
}
