package pipeline

import (
	"strings"

	"github.com/m0w0kuma/rofl/pkg/emulator"
	"github.com/m0w0kuma/rofl/pkg/replay"
)

var wardPlacementNames = map[string]bool{
	"YellowTrinket": true,
	"SightWard":     true,
	"JammerDevice":  true,
}

type posKey struct {
	x, y float32
}

// correlateWards walks ward-spawn decodes in chronological order, pairing
// each placement with its matching corpse event (spec.md §4.7).
//
// records must already be sorted by Timestamp.
func correlateWards(records []emulator.WardSpawnRecord, players []replay.Player, playerIDStart uint32) []WardEntry {
	placedByEntity := make(map[uint32]emulator.WardSpawnRecord)
	placedByPos := make(map[posKey]uint32)

	var out []WardEntry
	for _, r := range records {
		if wardPlacementNames[r.Name] {
			if _, exists := placedByEntity[r.ID]; exists {
				continue
			}
			placedByEntity[r.ID] = r
			placedByPos[posKey{r.X, r.Y}] = r.ID
			continue
		}

		if !strings.Contains(r.Name, "Corpse") {
			continue
		}

		key := posKey{r.X, r.Y}
		id, ok := placedByPos[key]
		if !ok {
			continue
		}
		placement, ok := placedByEntity[id]
		if !ok {
			continue
		}

		owner := resolveOwner(players, placement.OwnerID, playerIDStart)
		out = append(out, WardEntry{
			Name:      placement.Name,
			Team:      owner.Team,
			Owner:     owner,
			Timestamp: placement.Timestamp,
			Duration:  r.Timestamp - placement.Timestamp,
			Pos:       [2]float32{r.X, r.Y},
		})

		delete(placedByEntity, id)
		delete(placedByPos, key)
	}
	return out
}

func resolveOwner(players []replay.Player, ownerID, playerIDStart uint32) WardOwner {
	if ownerID < playerIDStart {
		return WardOwner{}
	}
	idx := int(ownerID - playerIDStart)
	if idx < 0 || idx >= len(players) {
		return WardOwner{}
	}
	p := players[idx]
	return WardOwner{Name: p.Name, Team: p.Team, Role: p.Position}
}
