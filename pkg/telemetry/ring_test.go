package telemetry

import (
	"fmt"
	"testing"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestEntryRing(t *testing.T) {
	push := func(r *entryRing, n int) {
		for i := 0; i < n; i++ {
			r.push(&models.LogEntry{Message: fmt.Sprint(i)})
		}
	}
	msgs := func(entries []*models.LogEntry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Message)
		}
		return out
	}

	tests := []struct {
		name     string
		capacity int
		pushed   int
		limit    int
		want     []string
	}{
		{"Empty", 3, 0, 3, []string{}},
		{"PartiallyFilled", 3, 2, 3, []string{"0", "1"}},
		{"Wrapped", 3, 5, 3, []string{"2", "3", "4"}},
		{"LimitBelowSize", 3, 5, 2, []string{"3", "4"}},
		{"ZeroLimit", 3, 5, 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEntryRing(tt.capacity)
			push(r, tt.pushed)
			assert.Equal(t, tt.want, msgs(r.last(tt.limit)))
			assert.LessOrEqual(t, r.len(), tt.capacity)
		})
	}
}

func TestRecentSet(t *testing.T) {
	s := newRecentSet(2)
	s.add("a")
	s.add("b")
	s.add("c") // evicts a
	assert.False(t, s.remove("a"))
	assert.True(t, s.remove("b"))
	assert.False(t, s.remove("b"))

	s.add("b")
	s.add("d") // overwrites the slot of c
	assert.False(t, s.remove("c"))
	assert.True(t, s.remove("b"))
	assert.True(t, s.remove("d"))
}
