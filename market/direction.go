package market

import (
	"fmt"
	"strings"
)

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// ParseDirection accepts the action words used by charting alerts.
func ParseDirection(action string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "buy", "long":
		return Long, nil
	case "sell", "short":
		return Short, nil
	}
	return "", fmt.Errorf("unknown action %q", action)
}

func (d Direction) Sign() int {
	if d == Short {
		return -1
	}
	return 1
}

func (d Direction) Valid() bool {
	return d == Long || d == Short
}
