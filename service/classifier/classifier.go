package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nazarick/gatekeeper/model/permission"
)

// Config holds the textual risk patterns, one list per level. Patterns are
// regular expressions matched case-insensitively against the request
// descriptor and target. Floors pins a minimum level per action kind so that
// e.g. a file delete never classifies below high even when no pattern fires.
type Config struct {
	Critical []string                         `json:"critical,omitempty" yaml:"critical,omitempty"`
	High     []string                         `json:"high,omitempty" yaml:"high,omitempty"`
	Medium   []string                         `json:"medium,omitempty" yaml:"medium,omitempty"`
	Low      []string                         `json:"low,omitempty" yaml:"low,omitempty"`
	Floors   map[permission.ActionKind]string `json:"floors,omitempty" yaml:"floors,omitempty"`
}

// DefaultConfig returns the built-in pattern table. Documented defaults, not
// hard-coded behaviour: callers may replace any list wholesale.
func DefaultConfig() Config {
	return Config{
		Critical: []string{
			`rm -rf`,
			`dd if=`,
			`mkfs\.`,
			`--force`,
			`git push.*--force`,
			`DROP DATABASE`,
			`DELETE FROM.*WHERE 1=1`,
		},
		High: []string{
			`sudo`,
			`git push`,
			`docker rm`,
			`DELETE FROM`,
			`ALTER TABLE`,
			`chmod 777`,
		},
		Medium: []string{
			`git commit`,
			`write file`,
			`edit file`,
			`docker restart`,
			`npm install`,
		},
		Low: []string{
			`git status`,
			`read file`,
			`^ls\b`,
			`^find\b`,
			`^grep\b`,
		},
		Floors: map[permission.ActionKind]string{
			permission.KindFileDelete:    "high",
			permission.KindSystemModify:  "high",
			permission.KindProcessExec:   "medium",
			permission.KindNetworkEgress: "medium",
			permission.KindFileWrite:     "medium",
		},
	}
}

type predicate struct {
	level   permission.RiskLevel
	pattern *regexp.Regexp
}

// Service assesses the risk level of an action request. It is a pure
// function over its immutable pattern table: no state, no I/O, safe for
// concurrent use without locking.
type Service struct {
	predicates []predicate
	floors     map[permission.ActionKind]permission.RiskLevel
}

// New compiles the configured patterns. The predicate order is fixed:
// critical first, then high, medium, low – the first match wins, so a
// command that matches both "git push --force" and "git push" classifies
// critical.
func New(config Config) (*Service, error) {
	byLevel := []struct {
		level    permission.RiskLevel
		patterns []string
	}{
		{permission.RiskCritical, config.Critical},
		{permission.RiskHigh, config.High},
		{permission.RiskMedium, config.Medium},
		{permission.RiskLow, config.Low},
	}
	ret := &Service{floors: map[permission.ActionKind]permission.RiskLevel{}}
	for _, group := range byLevel {
		for _, expr := range group.patterns {
			compiled, err := regexp.Compile(`(?i)` + expr)
			if err != nil {
				return nil, fmt.Errorf("invalid %v risk pattern %q: %w", group.level, expr, err)
			}
			ret.predicates = append(ret.predicates, predicate{level: group.level, pattern: compiled})
		}
	}
	for kind, name := range config.Floors {
		level, err := permission.ParseRiskLevel(name)
		if err != nil {
			return nil, fmt.Errorf("invalid floor for %v: %w", kind, err)
		}
		ret.floors[kind] = level
	}
	return ret, nil
}

// Classify maps a request to a risk level. Every syntactically valid request
// maps to a level; an unrecognised action kind classifies critical so that
// ambiguity fails closed. Unmatched requests default to medium.
func (s *Service) Classify(request *permission.ActionRequest) permission.RiskLevel {
	if !request.Kind.Known() {
		return permission.RiskCritical
	}
	level := permission.RiskMedium
	subject := strings.ToLower(request.Descriptor + " " + request.Target)
	for _, candidate := range s.predicates {
		if candidate.pattern.MatchString(subject) {
			level = candidate.level
			break
		}
	}
	if floor, ok := s.floors[request.Kind]; ok && level < floor {
		level = floor
	}
	return level
}
