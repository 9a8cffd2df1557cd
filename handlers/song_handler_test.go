package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundDropAPI/internal/types/song"
	"soundDropAPI/internal/types/subscription"
	"soundDropAPI/internal/types/user"
)

type fakeSongs struct {
	songs     []song.Song
	likeCalls int
	err       error
}

func (f *fakeSongs) GetSongs(ctx context.Context) ([]song.Song, error) {
	return f.songs, f.err
}

func (f *fakeSongs) SearchSongs(ctx context.Context, title string) ([]song.Song, error) {
	return f.songs, f.err
}

func (f *fakeSongs) GetSongByID(ctx context.Context, id string) (*song.Song, error) {
	if len(f.songs) == 0 {
		return nil, f.err
	}
	return &f.songs[0], f.err
}

func (f *fakeSongs) GetLikedSongs(ctx context.Context, userID string) ([]song.Song, error) {
	return f.songs, f.err
}

func (f *fakeSongs) LikeSong(ctx context.Context, userID, songID string) error {
	f.likeCalls++
	return f.err
}

func (f *fakeSongs) UnlikeSong(ctx context.Context, userID, songID string) error {
	return f.err
}

func entitledSubscription() *subscription.Subscription {
	created := time.Now().UTC()
	return &subscription.Subscription{
		ID:      "sub_1",
		UserID:  "u_42",
		Status:  subscription.StatusActive,
		Created: &created,
	}
}

func TestGetLikedSongsRequiresSubscription(t *testing.T) {
	h := NewSongHandler(
		&fakeSongs{},
		&fakeSubscriptions{current: nil},
		&fakeUserReader{user: &user.User{ID: "u_42"}},
	)

	rr := httptest.NewRecorder()
	h.GetLikedSongs(rr, authedRequest(http.MethodGet, "/api/v1/songs/liked", nil, "clerk_42"))

	assert.Equal(t, http.StatusForbidden, rr.Code, "no subscription means no liked songs")
}

func TestGetLikedSongsCanceledSubscriptionRejected(t *testing.T) {
	canceled := entitledSubscription()
	canceled.Status = subscription.StatusCanceled

	h := NewSongHandler(
		&fakeSongs{},
		&fakeSubscriptions{current: canceled},
		&fakeUserReader{user: &user.User{ID: "u_42"}},
	)

	rr := httptest.NewRecorder()
	h.GetLikedSongs(rr, authedRequest(http.MethodGet, "/api/v1/songs/liked", nil, "clerk_42"))

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestGetLikedSongsWithSubscription(t *testing.T) {
	h := NewSongHandler(
		&fakeSongs{songs: []song.Song{{ID: "song_1", Title: "Test Track", Author: "Test Artist"}}},
		&fakeSubscriptions{current: entitledSubscription()},
		&fakeUserReader{user: &user.User{ID: "u_42"}},
	)

	rr := httptest.NewRecorder()
	h.GetLikedSongs(rr, authedRequest(http.MethodGet, "/api/v1/songs/liked", nil, "clerk_42"))

	require.Equal(t, http.StatusOK, rr.Code)

	var songs []song.Song
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &songs))
	require.Len(t, songs, 1)
	assert.Equal(t, "Test Track", songs[0].Title)
}

func TestGetSongHidesPlaybackURLWithoutEntitlement(t *testing.T) {
	h := NewSongHandler(
		&fakeSongs{songs: []song.Song{{
			ID:       "song_1",
			Title:    "Gated Track",
			SongPath: "https://cdn.sounddrop.test/full/song_1.mp3",
			Source:   "local",
		}}},
		&fakeSubscriptions{current: nil},
		&fakeUserReader{},
	)

	// Anonymous caller.
	rr := httptest.NewRecorder()
	h.GetSong(rr, httptest.NewRequest(http.MethodGet, "/api/v1/songs/song_1", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var got song.Song
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "Gated Track", got.Title, "metadata stays public")
	assert.Empty(t, got.SongPath, "full playback URL requires an entitling subscription")
	assert.NotContains(t, rr.Body.String(), "cdn.sounddrop.test")
}

func TestGetSongServesPlaybackURLWhenEntitled(t *testing.T) {
	h := NewSongHandler(
		&fakeSongs{songs: []song.Song{{
			ID:       "song_1",
			Title:    "Gated Track",
			SongPath: "https://cdn.sounddrop.test/full/song_1.mp3",
			Source:   "local",
		}}},
		&fakeSubscriptions{current: entitledSubscription()},
		&fakeUserReader{user: &user.User{ID: "u_42"}},
	)

	rr := httptest.NewRecorder()
	h.GetSong(rr, authedRequest(http.MethodGet, "/api/v1/songs/song_1", nil, "clerk_42"))

	require.Equal(t, http.StatusOK, rr.Code)

	var got song.Song
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "https://cdn.sounddrop.test/full/song_1.mp3", got.SongPath)
}

func TestGetSongsListGatesLocalTracksOnly(t *testing.T) {
	h := NewSongHandler(
		&fakeSongs{songs: []song.Song{
			{ID: "song_1", Title: "Uploaded", SongPath: "https://cdn.sounddrop.test/full/song_1.mp3", Source: "local"},
			{ID: "deezer-7", Title: "Chart Hit", SongPath: "https://cdn-preview.deezer.com/7.mp3", Source: "deezer"},
		}},
		&fakeSubscriptions{current: nil},
		&fakeUserReader{},
	)

	rr := httptest.NewRecorder()
	h.GetSongs(rr, httptest.NewRequest(http.MethodGet, "/api/v1/songs", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var songs []song.Song
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &songs))
	require.Len(t, songs, 2)
	assert.Empty(t, songs[0].SongPath, "uploaded full track is gated")
	assert.Equal(t, "https://cdn-preview.deezer.com/7.mp3", songs[1].SongPath, "chart previews stay")
}

func TestGetLikedSongsUserLookupFailure(t *testing.T) {
	h := NewSongHandler(
		&fakeSongs{},
		&fakeSubscriptions{},
		&fakeUserReader{err: fmt.Errorf("connection refused")},
	)

	rr := httptest.NewRecorder()
	h.GetLikedSongs(rr, authedRequest(http.MethodGet, "/api/v1/songs/liked", nil, "clerk_42"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code, "a store failure is not a missing user")
}

func TestGetSongsIsPublic(t *testing.T) {
	h := NewSongHandler(
		&fakeSongs{songs: []song.Song{{ID: "song_1", Title: "Free Track"}}},
		&fakeSubscriptions{},
		&fakeUserReader{},
	)

	rr := httptest.NewRecorder()
	h.GetSongs(rr, httptest.NewRequest(http.MethodGet, "/api/v1/songs", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var songs []song.Song
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &songs))
	require.Len(t, songs, 1)
}

func TestSearchSongsRequiresTitle(t *testing.T) {
	h := NewSongHandler(&fakeSongs{}, &fakeSubscriptions{}, &fakeUserReader{})

	rr := httptest.NewRecorder()
	h.SearchSongs(rr, httptest.NewRequest(http.MethodGet, "/api/v1/songs/search", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
