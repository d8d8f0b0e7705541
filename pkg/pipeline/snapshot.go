package pipeline

import (
	"sort"

	"github.com/m0w0kuma/rofl/pkg/movement"
	"github.com/m0w0kuma/rofl/pkg/replay"
)

// numPlayers is the number of tracked player entities, player_id_start
// through player_id_start+9 (spec.md §4.7).
const numPlayers = 10

// buildSnapshots sorts movement decodes by timestamp and emits a state
// snapshot every time the stream's timestamp advances by at least one
// second since the previous snapshot (spec.md §4.7).
func buildSnapshots(records []movement.PathRecord, players []replay.Player, playerIDStart uint32) []StateSnapshot {
	sorted := make([]movement.PathRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	latest := make(map[uint32]movement.PathRecord, numPlayers)

	var snapshots []StateSnapshot
	var lastEmitted *float32

	for _, rec := range sorted {
		latest[rec.EntityID] = rec

		if lastEmitted != nil && rec.Timestamp-*lastEmitted < 1 {
			continue
		}
		ts := rec.Timestamp
		snapshots = append(snapshots, StateSnapshot{
			Timestamp: ts,
			Players:   snapshotPlayers(latest, players, playerIDStart, ts),
		})
		lastEmitted = &ts
	}
	return snapshots
}

func snapshotPlayers(latest map[uint32]movement.PathRecord, players []replay.Player, playerIDStart uint32, at float32) []PlayerSnapshot {
	out := make([]PlayerSnapshot, 0, numPlayers)
	for i := 0; i < numPlayers; i++ {
		id := playerIDStart + uint32(i)
		rec, ok := latest[id]
		if !ok || i >= len(players) {
			continue
		}
		x, y := rec.GetPos(at)
		p := players[i]
		out = append(out, PlayerSnapshot{
			Role:  p.Position,
			Team:  p.Team,
			Name:  p.Name,
			Champ: p.Skin,
			Pos:   [2]float32{x, y},
		})
	}
	return out
}
