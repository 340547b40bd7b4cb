package steam

import (
	"context"
	"strconv"

	"github.com/steamwatch/steamwatch/internal/monitor"
)

// Field keys contributed by the Steam collectors. Ownership does not overlap
// across tiers: each key is written by exactly one collector.
const (
	// Fast tier (presence).
	FieldPersonaName = "persona_name"
	FieldStatus      = "status"
	FieldGameID      = "game_id"
	FieldGameName    = "game_name"

	// Medium tier (social).
	FieldFriendCount = "friend_count"

	// Slow tier (library).
	FieldGameCount       = "game_count"
	FieldPlaytimeMinutes = "playtime_forever_min"
)

// FastCollector polls presence data: persona name, online status and the
// currently running game. The game fields are written only while a game is
// running; their absence is what the session tracker reads as "no activity".
type FastCollector struct {
	client  *Client
	steamID string
}

// NewFastCollector returns the presence collector for the given player.
func NewFastCollector(client *Client, steamID string) *FastCollector {
	return &FastCollector{client: client, steamID: steamID}
}

func (c *FastCollector) Collect(ctx context.Context) (*monitor.Observation, error) {
	summary, err := c.client.GetPlayerSummaries(ctx, c.steamID)
	if err != nil {
		return nil, err
	}

	obs := monitor.NewObservation(monitor.TierFast)
	obs.Set(FieldPersonaName, summary.PersonaName)
	obs.Set(FieldStatus, summary.StatusString())

	if summary.Playing() {
		obs.Set(FieldGameID, summary.GameID)
		obs.Set(FieldGameName, summary.GameExtraInfo)
	}

	return obs, nil
}

// MediumCollector polls social data: the friend count.
type MediumCollector struct {
	client  *Client
	steamID string
}

// NewMediumCollector returns the social collector for the given player.
func NewMediumCollector(client *Client, steamID string) *MediumCollector {
	return &MediumCollector{client: client, steamID: steamID}
}

func (c *MediumCollector) Collect(ctx context.Context) (*monitor.Observation, error) {
	friends, err := c.client.GetFriendList(ctx, c.steamID)
	if err != nil {
		return nil, err
	}

	obs := monitor.NewObservation(monitor.TierMedium)
	obs.Set(FieldFriendCount, strconv.Itoa(len(friends)))
	return obs, nil
}

// SlowCollector polls library data: owned-game count and total playtime.
type SlowCollector struct {
	client  *Client
	steamID string
}

// NewSlowCollector returns the library collector for the given player.
func NewSlowCollector(client *Client, steamID string) *SlowCollector {
	return &SlowCollector{client: client, steamID: steamID}
}

func (c *SlowCollector) Collect(ctx context.Context) (*monitor.Observation, error) {
	games, err := c.client.GetOwnedGames(ctx, c.steamID)
	if err != nil {
		return nil, err
	}

	obs := monitor.NewObservation(monitor.TierSlow)
	obs.Set(FieldGameCount, strconv.Itoa(games.GameCount))
	obs.Set(FieldPlaytimeMinutes, strconv.FormatInt(games.TotalPlaytime(), 10))
	return obs, nil
}
