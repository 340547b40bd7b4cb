package steam

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	})
	return srv, client
}

func TestClient_GetPlayerSummaries(t *testing.T) {
	t.Run("playing", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("key"); got != "test-key" {
				t.Errorf("key = %q, want test-key", got)
			}
			if got := r.URL.Query().Get("steamids"); got != "76561197960435530" {
				t.Errorf("steamids = %q", got)
			}
			w.Write([]byte(`{"response":{"players":[{
				"steamid":"76561197960435530",
				"personaname":"gordon",
				"personastate":1,
				"gameid":"570",
				"gameextrainfo":"Dota 2"
			}]}}`))
		})

		summary, err := client.GetPlayerSummaries(context.Background(), "76561197960435530")
		if err != nil {
			t.Fatalf("GetPlayerSummaries failed: %v", err)
		}

		if summary.PersonaName != "gordon" {
			t.Errorf("persona = %q", summary.PersonaName)
		}
		if !summary.Playing() {
			t.Error("summary should report playing")
		}
		if summary.GameExtraInfo != "Dota 2" {
			t.Errorf("game = %q", summary.GameExtraInfo)
		}
		if summary.StatusString() != "online" {
			t.Errorf("status = %q, want online", summary.StatusString())
		}
	})

	t.Run("not playing", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"response":{"players":[{
				"steamid":"76561197960435530",
				"personaname":"gordon",
				"personastate":0
			}]}}`))
		})

		summary, err := client.GetPlayerSummaries(context.Background(), "76561197960435530")
		if err != nil {
			t.Fatalf("GetPlayerSummaries failed: %v", err)
		}

		if summary.Playing() {
			t.Error("summary should not report playing")
		}
		if summary.StatusString() != "offline" {
			t.Errorf("status = %q, want offline", summary.StatusString())
		}
	})

	t.Run("no players returned", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"response":{"players":[]}}`))
		})

		if _, err := client.GetPlayerSummaries(context.Background(), "76561197960435530"); err == nil {
			t.Fatal("expected error for empty player list")
		}
	})
}

func TestClient_GetFriendList(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("relationship"); got != "friend" {
			t.Errorf("relationship = %q", got)
		}
		w.Write([]byte(`{"friendslist":{"friends":[
			{"steamid":"1","relationship":"friend","friend_since":1200000000},
			{"steamid":"2","relationship":"friend","friend_since":1300000000}
		]}}`))
	})

	friends, err := client.GetFriendList(context.Background(), "76561197960435530")
	if err != nil {
		t.Fatalf("GetFriendList failed: %v", err)
	}
	if len(friends) != 2 {
		t.Errorf("friends = %d, want 2", len(friends))
	}
}

func TestClient_GetOwnedGames(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"game_count":2,"games":[
			{"appid":570,"name":"Dota 2","playtime_forever":6000},
			{"appid":440,"name":"Team Fortress 2","playtime_forever":1500}
		]}}`))
	})

	games, err := client.GetOwnedGames(context.Background(), "76561197960435530")
	if err != nil {
		t.Fatalf("GetOwnedGames failed: %v", err)
	}
	if games.GameCount != 2 {
		t.Errorf("game count = %d, want 2", games.GameCount)
	}
	if games.TotalPlaytime() != 7500 {
		t.Errorf("total playtime = %d, want 7500", games.TotalPlaytime())
	}
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	t.Run("auth failure", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})

		_, err := client.GetPlayerSummaries(context.Background(), "x")
		if !IsAuthError(err) {
			t.Errorf("err = %v, want auth error", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := client.GetFriendList(context.Background(), "x")
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("err = %v, want APIError", err)
		}
		if apiErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", apiErr.StatusCode)
		}
		if IsAuthError(err) {
			t.Error("500 should not classify as auth error")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"response":`))
		})

		if _, err := client.GetOwnedGames(context.Background(), "x"); err == nil {
			t.Fatal("expected decode error")
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := client.GetPlayerSummaries(ctx, "x"); err == nil {
			t.Fatal("expected error for cancelled context")
		}
	})
}
