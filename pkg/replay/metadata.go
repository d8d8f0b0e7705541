package replay

import (
	"encoding/binary"
	"encoding/json"
	"unicode/utf8"
)

// Team identifies which side a player or ward belongs to.
type Team string

const (
	TeamBlue Team = "Blue"
	TeamRed  Team = "Red"
)

// Role is a lane/role assignment derived from a player's index in the
// stats array (spec.md §4.3).
type Role string

const (
	RoleTop     Role = "Top"
	RoleJungle  Role = "Jungle"
	RoleMid     Role = "Mid"
	RoleAdc     Role = "Adc"
	RoleSupport Role = "Support"
)

var rolesByIndex = [5]Role{RoleTop, RoleJungle, RoleMid, RoleAdc, RoleSupport}

// Player is one roster entry decoded from the trailing statsJson array.
type Player struct {
	Name     string `json:"name"`
	Skin     string `json:"skin"`
	Team     Team   `json:"team"`
	Position Role   `json:"position"`
}

// Metadata is the replay's trailing descriptor: version, duration, roster,
// and outcome (spec.md §4.3).
type Metadata struct {
	Version      string   `json:"version"`
	GameLength   uint64   `json:"game_length"`
	WinningTeam  Team     `json:"winning_team"`
	Players      []Player `json:"players"`
}

// ParseMetadata reads the version string and trailing JSON metadata
// descriptor from a full, unstripped replay buffer.
func ParseMetadata(replay []byte) (*Metadata, error) {
	if len(replay) < 20 {
		return nil, newMetadataParseError("replay shorter than version field")
	}
	versionBytes := replay[16:20]
	if !utf8.Valid(versionBytes) {
		return nil, newMetadataParseError("version bytes are not valid UTF-8")
	}
	version := string(versionBytes)

	if len(replay) < 4 {
		return nil, newMetadataParseError("replay shorter than trailing length field")
	}
	n := len(replay)
	metadataLen := binary.LittleEndian.Uint32(replay[n-4:])
	start := n - 4 - int(metadataLen)
	if start < 0 || start > n-4 {
		return nil, newMetadataParseError("trailing metadata length out of range")
	}
	raw := replay[start : n-4]

	var doc struct {
		GameLength json.Number `json:"gameLength"`
		StatsJSON  string      `json:"statsJson"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, newMetadataParseError("malformed metadata JSON: " + err.Error())
	}
	gameLength, err := doc.GameLength.Int64()
	if err != nil {
		return nil, newMetadataParseError("gameLength is not an integer")
	}

	var stats []map[string]string
	if err := json.Unmarshal([]byte(doc.StatsJSON), &stats); err != nil {
		return nil, newMetadataParseError("malformed statsJson: " + err.Error())
	}
	if len(stats) == 0 {
		return nil, newMetadataParseError("statsJson has no entries")
	}

	players := make([]Player, 0, len(stats))
	for i, entry := range stats {
		team, err := parseTeam(entry["TEAM"])
		if err != nil {
			return nil, err
		}
		players = append(players, Player{
			Name:     entry["NAME"],
			Skin:     entry["SKIN"],
			Team:     team,
			Position: rolesByIndex[i%5],
		})
	}

	winningTeam := TeamRed
	firstTeam, err := parseTeam(stats[0]["TEAM"])
	if err != nil {
		return nil, err
	}
	if firstTeam == TeamBlue && stats[0]["WIN"] == "Win" {
		winningTeam = TeamBlue
	}

	return &Metadata{
		Version:     version,
		GameLength:  uint64(gameLength),
		WinningTeam: winningTeam,
		Players:     players,
	}, nil
}

func parseTeam(raw string) (Team, error) {
	switch raw {
	case "100":
		return TeamBlue, nil
	case "200":
		return TeamRed, nil
	default:
		return "", newMetadataParseError("unexpected TEAM value: " + raw)
	}
}
