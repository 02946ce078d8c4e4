package game

// PointResolver plays the two-hand point-comparison game (baccarat rules).
type PointResolver struct{}

func (PointResolver) Variant() Variant { return VariantPoint }

func (PointResolver) MinCards() int { return 6 }

func (PointResolver) BetTypes() []BetType {
	return []BetType{BetPlayer, BetBanker, BetTie, BetPlayerPair, BetBankerPair}
}

func (PointResolver) Resolve(d Drawer) (*Outcome, error) {
	player := Hand{Name: ResultPlayer}
	banker := Hand{Name: ResultBanker}
	dl := &dealer{d: d}

	// P1 B1 P2 B2
	for i := 0; i < 2; i++ {
		if err := dl.deal(&player); err != nil {
			return nil, err
		}
		if err := dl.deal(&banker); err != nil {
			return nil, err
		}
	}

	pTotal := pointTotal(player.Cards)
	bTotal := pointTotal(banker.Cards)

	if pTotal < 8 && bTotal < 8 {
		playerThird := -1
		if pTotal <= 5 {
			if err := dl.deal(&player); err != nil {
				return nil, err
			}
			playerThird = player.Cards[2].PointValue()
		}
		if BankerDraws(bTotal, playerThird) {
			if err := dl.deal(&banker); err != nil {
				return nil, err
			}
		}
	}

	player.Points = pointTotal(player.Cards)
	banker.Points = pointTotal(banker.Cards)

	out := &Outcome{
		Variant:    VariantPoint,
		Hands:      []Hand{player, banker},
		PlayerPair: player.Cards[0].Rank == player.Cards[1].Rank,
		BankerPair: banker.Cards[0].Rank == banker.Cards[1].Rank,
		Reveals:    dl.reveals,
	}
	switch {
	case player.Points > banker.Points:
		out.Result = ResultPlayer
	case banker.Points > player.Points:
		out.Result = ResultBanker
	default:
		out.Result = ResultTie
	}
	return out, nil
}

// BankerDraws applies the banker third-card table. playerThird is the
// point value of the player's third card, or -1 when the player stood.
func BankerDraws(bankerTotal, playerThird int) bool {
	if playerThird < 0 {
		return bankerTotal <= 5
	}
	switch bankerTotal {
	case 0, 1, 2:
		return true
	case 3:
		return playerThird != 8
	case 4:
		return playerThird >= 2 && playerThird <= 7
	case 5:
		return playerThird >= 4 && playerThird <= 7
	case 6:
		return playerThird == 6 || playerThird == 7
	default:
		return false
	}
}
