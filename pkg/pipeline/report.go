// Package pipeline orchestrates the end-to-end decode of one replay file:
// metadata parsing, parallel emulator decoding, and the correlation/snapshot
// passes that produce the final report (spec.md §4.7). The patch image is
// supplied by the caller; the pipeline does not choose it from the replay's
// version.
package pipeline

import "github.com/m0w0kuma/rofl/pkg/replay"

// MetadataOut is the report's metadata block (spec.md §6).
type MetadataOut struct {
	Version     string          `json:"version"`
	GameLength  uint64          `json:"game_len"`
	WinningTeam replay.Team     `json:"winning_team"`
	Players     []replay.Player `json:"players"`
}

// WardOwner identifies the player who placed a ward.
type WardOwner struct {
	Name string      `json:"name"`
	Team replay.Team `json:"team"`
	Role replay.Role `json:"role"`
}

// WardEntry is one correlated ward lifetime: placement through death.
type WardEntry struct {
	Name      string      `json:"name"`
	Team      replay.Team `json:"team"`
	Owner     WardOwner   `json:"owner"`
	Timestamp float32     `json:"timestamp"`
	Duration  float32     `json:"duration"`
	Pos       [2]float32  `json:"pos"`
}

// PlayerSnapshot is one player's interpolated state at a snapshot instant.
type PlayerSnapshot struct {
	Role  replay.Role `json:"role"`
	Team  replay.Team `json:"team"`
	Name  string      `json:"name"`
	Champ string      `json:"champ"`
	Pos   [2]float32  `json:"pos"`
}

// StateSnapshot is one periodic players_state entry.
type StateSnapshot struct {
	Timestamp float32          `json:"timestamp"`
	Players   []PlayerSnapshot `json:"players"`
}

// GameReport is the terminal output of one replay decode (spec.md §6).
type GameReport struct {
	Metadata     MetadataOut     `json:"metadata"`
	Wards        []WardEntry     `json:"wards"`
	PlayersState []StateSnapshot `json:"players_state"`
}

func newMetadataOut(md *replay.Metadata) MetadataOut {
	return MetadataOut{
		Version:     md.Version,
		GameLength:  md.GameLength,
		WinningTeam: md.WinningTeam,
		Players:     md.Players,
	}
}

// TeamRolePosition is one player's interpolated position at a single
// snapshot instant, recorded as part of a team/role-keyed movement
// timeline (see RolePositionsByTeam).
type TeamRolePosition struct {
	Timestamp float32    `json:"timestamp"`
	Pos       [2]float32 `json:"pos"`
}

// RolePositionsByTeam re-projects a flat snapshot timeline into the
// team/role-keyed accumulation original_source/src/main.rs's
// get_replay_info builds (game["players"][team][role]): every player's
// interpolated position at each snapshot instant, bucketed by team then
// role -- a cheap re-projection of data already computed, not something
// the JSON contract itself (spec.md §6) requires.
func RolePositionsByTeam(snapshots []StateSnapshot) map[replay.Team]map[replay.Role][]TeamRolePosition {
	out := map[replay.Team]map[replay.Role][]TeamRolePosition{
		replay.TeamBlue: newRoleBuckets(),
		replay.TeamRed:  newRoleBuckets(),
	}
	for _, snap := range snapshots {
		for _, p := range snap.Players {
			buckets, ok := out[p.Team]
			if !ok {
				buckets = newRoleBuckets()
				out[p.Team] = buckets
			}
			buckets[p.Role] = append(buckets[p.Role], TeamRolePosition{
				Timestamp: snap.Timestamp,
				Pos:       p.Pos,
			})
		}
	}
	return out
}

func newRoleBuckets() map[replay.Role][]TeamRolePosition {
	return map[replay.Role][]TeamRolePosition{
		replay.RoleTop:     nil,
		replay.RoleJungle:  nil,
		replay.RoleMid:     nil,
		replay.RoleAdc:     nil,
		replay.RoleSupport: nil,
	}
}
