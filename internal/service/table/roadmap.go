package table

import (
	"sort"

	"table-service/internal/model"
	"table-service/internal/service/game"
)

// RoadEntry is one finished round as shown on the table history board.
type RoadEntry struct {
	RoundNo    string         `json:"roundNo"`
	ShoeNo     int64          `json:"shoeNo"`
	Result     string         `json:"result"`
	PlayerPair bool           `json:"playerPair,omitempty"`
	BankerPair bool           `json:"bankerPair,omitempty"`
	SuitedTie  bool           `json:"suitedTie,omitempty"`
	Wins       []game.BetType `json:"wins,omitempty"`
}

// Roadmap keeps the most recent rounds of the current shoe.
type Roadmap struct {
	size    int
	entries []RoadEntry
}

func NewRoadmap(size int) *Roadmap {
	if size <= 0 {
		size = 72
	}
	return &Roadmap{size: size}
}

func (r *Roadmap) Append(e RoadEntry) {
	r.entries = append(r.entries, e)
	if over := len(r.entries) - r.size; over > 0 {
		r.entries = append([]RoadEntry(nil), r.entries[over:]...)
	}
}

func (r *Roadmap) Reset() {
	r.entries = nil
}

func (r *Roadmap) Entries() []RoadEntry {
	return append([]RoadEntry{}, r.entries...)
}

func entryFromOutcome(roundNo string, shoeNo int64, out *game.Outcome) RoadEntry {
	e := RoadEntry{
		RoundNo:    roundNo,
		ShoeNo:     shoeNo,
		Result:     out.Result,
		PlayerPair: out.PlayerPair,
		BankerPair: out.BankerPair,
		SuitedTie:  out.SuitedTie,
	}
	for bt, won := range out.Wins {
		if won {
			e.Wins = append(e.Wins, bt)
		}
	}
	sort.Slice(e.Wins, func(i, j int) bool { return e.Wins[i] < e.Wins[j] })
	return e
}

func entryFromRound(r model.Round) RoadEntry {
	return RoadEntry{
		RoundNo:    r.RoundNo,
		ShoeNo:     r.ShoeNo,
		Result:     r.Result,
		PlayerPair: r.PlayerPair,
		BankerPair: r.BankerPair,
		SuitedTie:  r.SuitedTie,
	}
}
