package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers using KSUID.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
)

// Generator produces task identifiers. It is safe for concurrent use.
type Generator struct {
	strategy Strategy
}

// NewGenerator returns a generator using strategy.
func NewGenerator(strategy Strategy) *Generator {
	return &Generator{strategy: strategy}
}

// ParseStrategy maps "ksuid" or "uuidv7" to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ksuid":
		return StrategyKSUID, nil
	case "uuid", "uuidv7":
		return StrategyUUIDv7, nil
	default:
		return StrategyKSUID, fmt.Errorf("unknown id strategy %q", name)
	}
}

// NewTaskID returns "task-" followed by a fresh identifier.
func (g *Generator) NewTaskID() string {
	return g.newIdentifier("task")
}

func (g *Generator) newIdentifier(prefix string) string {
	var body string
	switch g.strategy {
	case StrategyUUIDv7:
		uuidv7, err := uuid.NewV7()
		if err == nil {
			body = uuidv7.String()
			break
		}
		fallthrough
	default:
		body = ksuid.New().String()
	}

	return fmt.Sprintf("%s-%s", prefix, body)
}
