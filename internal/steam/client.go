// Package steam implements the Steam Web API client and the per-tier
// collectors built on it.
package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the production Steam Web API endpoint.
const DefaultBaseURL = "https://api.steampowered.com"

// DefaultRequestTimeout bounds one API request when the config leaves it
// unset.
const DefaultRequestTimeout = 10 * time.Second

// PersonaState values reported by GetPlayerSummaries.
const (
	PersonaOffline        = 0
	PersonaOnline         = 1
	PersonaBusy           = 2
	PersonaAway           = 3
	PersonaSnooze         = 4
	PersonaLookingToTrade = 5
	PersonaLookingToPlay  = 6
)

// APIError represents a failed Steam Web API call.
type APIError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("steam api %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("steam api %s: %v", e.Endpoint, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether the error is a Steam API rejection of the
// configured key (HTTP 403).
func IsAuthError(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusForbidden
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// APIKey is the Steam Web API key. Required.
	APIKey string

	// BaseURL overrides the API endpoint. Used by tests; defaults to
	// DefaultBaseURL.
	BaseURL string

	// Timeout bounds one request. Defaults to DefaultRequestTimeout.
	Timeout time.Duration

	// HTTPClient overrides the underlying HTTP client.
	HTTPClient *http.Client
}

// Client is a minimal Steam Web API client covering the three endpoints the
// monitor polls. It is safe for concurrent use, though the rate gate
// serializes calls in practice.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(config ClientConfig) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiKey:  config.APIKey,
		baseURL: baseURL,
		http:    httpClient,
	}
}

// PlayerSummary is the presence portion of a GetPlayerSummaries result.
type PlayerSummary struct {
	SteamID       string `json:"steamid"`
	PersonaName   string `json:"personaname"`
	PersonaState  int    `json:"personastate"`
	GameID        string `json:"gameid,omitempty"`
	GameExtraInfo string `json:"gameextrainfo,omitempty"`
}

// Playing reports whether the player is currently in a game.
func (p *PlayerSummary) Playing() bool {
	return p.GameID != ""
}

// StatusString maps the numeric persona state to a stable label.
func (p *PlayerSummary) StatusString() string {
	switch p.PersonaState {
	case PersonaOnline:
		return "online"
	case PersonaBusy:
		return "busy"
	case PersonaAway:
		return "away"
	case PersonaSnooze:
		return "snooze"
	case PersonaLookingToTrade:
		return "looking_to_trade"
	case PersonaLookingToPlay:
		return "looking_to_play"
	default:
		return "offline"
	}
}

// Friend is one entry of a GetFriendList result.
type Friend struct {
	SteamID      string `json:"steamid"`
	Relationship string `json:"relationship"`
	FriendSince  int64  `json:"friend_since"`
}

// OwnedGame is one entry of a GetOwnedGames result.
type OwnedGame struct {
	AppID           int64  `json:"appid"`
	Name            string `json:"name,omitempty"`
	PlaytimeForever int64  `json:"playtime_forever"` // minutes
}

// OwnedGames is the library portion of a GetOwnedGames result.
type OwnedGames struct {
	GameCount int         `json:"game_count"`
	Games     []OwnedGame `json:"games"`
}

// TotalPlaytime returns the library-wide playtime in minutes.
func (o *OwnedGames) TotalPlaytime() int64 {
	var total int64
	for _, g := range o.Games {
		total += g.PlaytimeForever
	}
	return total
}

// GetPlayerSummaries fetches the presence summary for one steam id.
func (c *Client) GetPlayerSummaries(ctx context.Context, steamID string) (*PlayerSummary, error) {
	const endpoint = "/ISteamUser/GetPlayerSummaries/v2/"

	var result struct {
		Response struct {
			Players []PlayerSummary `json:"players"`
		} `json:"response"`
	}

	params := url.Values{"steamids": {steamID}}
	if err := c.get(ctx, endpoint, params, &result); err != nil {
		return nil, err
	}

	if len(result.Response.Players) == 0 {
		return nil, &APIError{Endpoint: endpoint, Err: fmt.Errorf("no player returned for %s", steamID)}
	}

	return &result.Response.Players[0], nil
}

// GetFriendList fetches the player's friend list.
func (c *Client) GetFriendList(ctx context.Context, steamID string) ([]Friend, error) {
	const endpoint = "/ISteamUser/GetFriendList/v1/"

	var result struct {
		FriendsList struct {
			Friends []Friend `json:"friends"`
		} `json:"friendslist"`
	}

	params := url.Values{
		"steamid":      {steamID},
		"relationship": {"friend"},
	}
	if err := c.get(ctx, endpoint, params, &result); err != nil {
		return nil, err
	}

	return result.FriendsList.Friends, nil
}

// GetOwnedGames fetches the player's game library.
func (c *Client) GetOwnedGames(ctx context.Context, steamID string) (*OwnedGames, error) {
	const endpoint = "/IPlayerService/GetOwnedGames/v1/"

	var result struct {
		Response OwnedGames `json:"response"`
	}

	params := url.Values{
		"steamid":                   {steamID},
		"include_appinfo":           {"1"},
		"include_played_free_games": {"1"},
	}
	if err := c.get(ctx, endpoint, params, &result); err != nil {
		return nil, err
	}

	return &result.Response, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	params.Set("key", c.apiKey)
	params.Set("format", "json")

	reqURL := c.baseURL + endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &APIError{Endpoint: endpoint, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Endpoint: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}
