package table

import (
	"fmt"
	"strconv"
	"time"
)

// roundCounter allocates display round numbers: the local date followed
// by a three digit daily sequence, restarting at 001 each day.
type roundCounter struct {
	day string
	seq int
}

func (c *roundCounter) next(now time.Time) string {
	day := now.Format("20060102")
	if day != c.day {
		c.day = day
		c.seq = 0
	}
	c.seq++
	return fmt.Sprintf("%s%03d", c.day, c.seq)
}

// observe moves the counter past an already issued round number so a
// restart never reissues it.
func (c *roundCounter) observe(roundNo string) {
	if len(roundNo) < 9 {
		return
	}
	day := roundNo[:8]
	seq, err := strconv.Atoi(roundNo[8:])
	if err != nil {
		return
	}
	switch {
	case day > c.day:
		c.day, c.seq = day, seq
	case day == c.day && seq > c.seq:
		c.seq = seq
	}
}

type roundInfo struct {
	ID        string
	No        string
	ShoeNo    int64
	StartedAt time.Time
}
