package game

// DuelResolver plays the two-card high-card duel. Aces are low.
type DuelResolver struct{}

func (DuelResolver) Variant() Variant { return VariantDuel }

func (DuelResolver) MinCards() int { return 2 }

func (DuelResolver) BetTypes() []BetType {
	return []BetType{BetDragon, BetTiger, BetTie, BetSuitedTie}
}

func (DuelResolver) Resolve(d Drawer) (*Outcome, error) {
	dragon := Hand{Name: ResultDragon}
	tiger := Hand{Name: ResultTiger}
	dl := &dealer{d: d}

	if err := dl.deal(&dragon); err != nil {
		return nil, err
	}
	if err := dl.deal(&tiger); err != nil {
		return nil, err
	}
	dc, tc := dragon.Cards[0], tiger.Cards[0]
	dragon.Points = dc.Rank
	tiger.Points = tc.Rank

	out := &Outcome{
		Variant: VariantDuel,
		Hands:   []Hand{dragon, tiger},
		Reveals: dl.reveals,
	}
	switch {
	case dc.Rank > tc.Rank:
		out.Result = ResultDragon
	case tc.Rank > dc.Rank:
		out.Result = ResultTiger
	default:
		out.Result = ResultTie
		out.SuitedTie = dc.Suit == tc.Suit
	}
	return out, nil
}
