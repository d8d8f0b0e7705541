package pipeline

import (
	"testing"

	"github.com/m0w0kuma/rofl/pkg/movement"
	"github.com/m0w0kuma/rofl/pkg/replay"
)

func TestBuildSnapshotsGating(t *testing.T) {
	players := []replay.Player{
		{Name: "Alice", Team: replay.TeamBlue, Position: replay.RoleTop, Skin: "Ahri"},
	}
	records := []movement.PathRecord{
		{Timestamp: 0, EntityID: 100, Speed: 1, Waypoints: [][2]float32{{0, 0}}},
		{Timestamp: 0.4, EntityID: 100, Speed: 1, Waypoints: [][2]float32{{1, 1}}},
	}

	snapshots := buildSnapshots(records, players, 100)
	if len(snapshots) != 1 {
		t.Fatalf("len(snapshots) = %d, want 1 (second record is within the 1s gate)", len(snapshots))
	}
	if len(snapshots[0].Players) != 1 {
		t.Fatalf("len(players) = %d, want 1", len(snapshots[0].Players))
	}
	if snapshots[0].Players[0].Champ != "Ahri" {
		t.Fatalf("Champ = %q, want Ahri", snapshots[0].Players[0].Champ)
	}
}

func TestBuildSnapshotsAdvancesPastGate(t *testing.T) {
	players := []replay.Player{{Name: "Alice", Team: replay.TeamBlue, Position: replay.RoleTop}}
	records := []movement.PathRecord{
		{Timestamp: 0, EntityID: 100, Speed: 1, Waypoints: [][2]float32{{0, 0}}},
		{Timestamp: 1.5, EntityID: 100, Speed: 1, Waypoints: [][2]float32{{1, 1}}},
	}

	snapshots := buildSnapshots(records, players, 100)
	if len(snapshots) != 2 {
		t.Fatalf("len(snapshots) = %d, want 2", len(snapshots))
	}
}

func TestRolePositionsByTeam(t *testing.T) {
	snaps := []StateSnapshot{
		{
			Timestamp: 1,
			Players: []PlayerSnapshot{
				{Team: replay.TeamBlue, Role: replay.RoleSupport, Pos: [2]float32{1, 1}},
				{Team: replay.TeamRed, Role: replay.RoleTop, Pos: [2]float32{2, 2}},
			},
		},
		{
			Timestamp: 2,
			Players: []PlayerSnapshot{
				{Team: replay.TeamBlue, Role: replay.RoleSupport, Pos: [2]float32{3, 3}},
			},
		},
	}

	byTeam := RolePositionsByTeam(snaps)

	blueSupport := byTeam[replay.TeamBlue][replay.RoleSupport]
	if len(blueSupport) != 2 {
		t.Fatalf("len(blueSupport) = %d, want 2", len(blueSupport))
	}
	if blueSupport[0].Timestamp != 1 || blueSupport[0].Pos != [2]float32{1, 1} {
		t.Fatalf("blueSupport[0] = %+v, want {1 {1 1}}", blueSupport[0])
	}
	if blueSupport[1].Timestamp != 2 || blueSupport[1].Pos != [2]float32{3, 3} {
		t.Fatalf("blueSupport[1] = %+v, want {2 {3 3}}", blueSupport[1])
	}

	redTop := byTeam[replay.TeamRed][replay.RoleTop]
	if len(redTop) != 1 || redTop[0].Pos != [2]float32{2, 2} {
		t.Fatalf("redTop = %+v, want one entry at (2,2)", redTop)
	}

	if len(byTeam[replay.TeamBlue][replay.RoleTop]) != 0 {
		t.Fatalf("expected no entries for an unvisited role bucket")
	}
}
