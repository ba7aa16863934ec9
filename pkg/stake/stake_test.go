package stake

import "testing"

func TestThresholdIsSuperMajority(t *testing.T) {
	tbl := NewTable([]Validator{{ID: "a", Stake: 1}, {ID: "b", Stake: 1}, {ID: "c", Stake: 1}, {ID: "d", Stake: 1}})
	if got := tbl.Threshold(); got != 3 {
		t.Fatalf("expected threshold 3 of 4, got %d", got)
	}
}

func TestLeaderOfRoundRobins(t *testing.T) {
	tbl := NewTable([]Validator{{ID: "a", Stake: 1}, {ID: "b", Stake: 1}, {ID: "c", Stake: 1}})
	if tbl.LeaderOf(0) != "a" || tbl.LeaderOf(1) != "b" || tbl.LeaderOf(3) != "a" {
		t.Fatalf("unexpected round-robin leader sequence")
	}
}

func TestDACommitteeIsOrderedPrefix(t *testing.T) {
	tbl := NewTable([]Validator{{ID: "a", Stake: 1}, {ID: "b", Stake: 1}, {ID: "c", Stake: 1}})
	committee := tbl.DACommittee(2)
	if len(committee) != 2 || committee[0].ID != "a" || committee[1].ID != "b" {
		t.Fatalf("expected first two validators, got %+v", committee)
	}
	if tbl.IsDACommitteeMember("c", 2) {
		t.Fatal("expected c to be outside a committee of size 2")
	}
}

func TestVIDLeaderIsDALeaderOfNextView(t *testing.T) {
	tbl := NewTable([]Validator{{ID: "a", Stake: 1}, {ID: "b", Stake: 1}})
	if tbl.VIDLeaderOf(0) != tbl.DALeaderOf(1) {
		t.Fatalf("expected VID leader of view 0 to equal DA leader of view 1")
	}
}
