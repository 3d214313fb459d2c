package gpt

import (
	"iter"
	"sort"
	"strings"
)

type segment struct {
	text    string
	id      int
	special bool
}

type specialMatcher struct {
	literals []string // longest first
	ids      map[string]int
	first    [256]bool
}

func newSpecialMatcher(ids map[string]int) *specialMatcher {
	m := &specialMatcher{ids: ids}
	for lit := range ids {
		if lit == "" {
			continue
		}
		m.literals = append(m.literals, lit)
		m.first[lit[0]] = true
	}
	sort.Slice(m.literals, func(i, j int) bool {
		if len(m.literals[i]) != len(m.literals[j]) {
			return len(m.literals[i]) > len(m.literals[j])
		}
		return m.literals[i] < m.literals[j]
	})
	return m
}

func (m *specialMatcher) matchAt(s string, i int) (string, bool) {
	if !m.first[s[i]] {
		return "", false
	}
	for _, lit := range m.literals {
		if strings.HasPrefix(s[i:], lit) {
			return lit, true
		}
	}
	return "", false
}

// segments splits text around verbatim special token matches, longest
// match first.
func (m *specialMatcher) segments(text string) iter.Seq[segment] {
	return func(yield func(segment) bool) {
		start := 0
		for i := 0; i < len(text); {
			lit, ok := m.matchAt(text, i)
			if !ok {
				i++
				continue
			}
			if start < i {
				if !yield(segment{text: text[start:i]}) {
					return
				}
			}
			if !yield(segment{id: m.ids[lit], special: true}) {
				return
			}
			i += len(lit)
			start = i
		}
		if start < len(text) {
			yield(segment{text: text[start:]})
		}
	}
}
