package alias

import (
	"fmt"
	"testing"

	"github.com/cuemap-dev/cuemap/core/index"
)

func TestProposerScan(t *testing.T) {
	ci := index.NewCueIndex(8)
	// Two lexically related cues over an almost identical memory set.
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("m%d", i)
		ci.Add("payment", id)
		ci.Add("payments", id)
	}
	// One divergent entry keeps the overlap just under 1.0.
	ci.Add("payment", "only-a")
	// An unrelated mid-frequency cue that shares no tokens.
	for i := 0; i < 40; i++ {
		ci.Add("database", fmt.Sprintf("m%d", i))
	}

	tbl := NewTable()
	props := NewProposals()
	added := props.Scan(ci, tbl, 0.9)

	var found *Proposal
	for i := range added {
		if added[i].From == "payments" && added[i].To == "payment" {
			found = &added[i]
		}
		if added[i].From == "database" || added[i].To == "database" {
			t.Errorf("lexical gate let %v through", added[i])
		}
	}
	if found == nil {
		t.Fatalf("expected payments -> payment proposal, got %v", added)
	}
	if found.Weight != DefaultProposeWeight {
		t.Errorf("weight = %f", found.Weight)
	}
	if found.Score < 0.9 {
		t.Errorf("score = %f", found.Score)
	}

	t.Run("re-scan converges", func(t *testing.T) {
		if again := props.Scan(ci, tbl, 0.9); len(again) != 0 {
			t.Errorf("second scan duplicated proposals: %v", again)
		}
	})

	t.Run("accept installs alias", func(t *testing.T) {
		if !props.Accept(found.ID, tbl) {
			t.Fatal("accept failed")
		}
		targets := tbl.Targets("payments")
		if len(targets) != 1 || targets[0].To != "payment" {
			t.Errorf("targets = %v", targets)
		}
		if len(props.List()) != len(added)-1 {
			t.Error("accepted proposal still pending")
		}
	})

	t.Run("accepted pair is not re-proposed", func(t *testing.T) {
		if again := props.Scan(ci, tbl, 0.9); len(again) != 0 {
			t.Errorf("re-proposed an installed alias: %v", again)
		}
	})
}

func TestProposerSkipsLowSupport(t *testing.T) {
	ci := index.NewCueIndex(8)
	// Below the minimum memory floor: never proposed.
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("m%d", i)
		ci.Add("cache", id)
		ci.Add("caches", id)
	}
	props := NewProposals()
	if added := props.Scan(ci, NewTable(), 0.9); len(added) != 0 {
		t.Errorf("low-support cues proposed: %v", added)
	}
}

func TestLexicalGate(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"payment", "payments", true},
		{"error:timeout", "timeout", true},
		{"db-connection", "connection-pool", true},
		{"payment", "database", false},
		{"ab", "cd", false},
	}
	for _, tc := range cases {
		if got := lexicalGate(tc.a, tc.b); got != tc.want {
			t.Errorf("lexicalGate(%q, %q) = %v", tc.a, tc.b, got)
		}
	}
}
