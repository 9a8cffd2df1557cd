package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"soundDropAPI/internal/types/song"
	"soundDropAPI/middleware"
	"soundDropAPI/services"

	"github.com/gorilla/mux"
)

// SongProvider is the slice of the song service the HTTP layer needs.
type SongProvider interface {
	GetSongs(ctx context.Context) ([]song.Song, error)
	SearchSongs(ctx context.Context, title string) ([]song.Song, error)
	GetSongByID(ctx context.Context, id string) (*song.Song, error)
	GetLikedSongs(ctx context.Context, userID string) ([]song.Song, error)
	LikeSong(ctx context.Context, userID, songID string) error
	UnlikeSong(ctx context.Context, userID, songID string) error
}

type SongHandler struct {
	songs   SongProvider
	billing SubscriptionProvider
	users   UserReader
}

func NewSongHandler(songSvc SongProvider, billingSvc SubscriptionProvider, userSvc UserReader) *SongHandler {
	return &SongHandler{
		songs:   songSvc,
		billing: billingSvc,
		users:   userSvc,
	}
}

// GetSongs returns the catalog newest first, merged with the external
// chart feed when it is reachable. Full playback URLs are a premium
// feature and are blanked for callers without an entitling
// subscription.
func (h *SongHandler) GetSongs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	songs, err := h.songs.GetSongs(ctx)
	if err != nil {
		log.Printf("GetSongs Handler: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Error fetching songs")
		return
	}

	respondWithJSON(w, http.StatusOK, h.gatePlayback(ctx, songs))
}

func (h *SongHandler) SearchSongs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	title := r.URL.Query().Get("title")
	if title == "" {
		respondWithError(w, http.StatusBadRequest, "Search query parameter 'title' is required")
		return
	}

	songs, err := h.songs.SearchSongs(ctx, title)
	if err != nil {
		log.Printf("SearchSongs Handler: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Error searching songs")
		return
	}

	respondWithJSON(w, http.StatusOK, h.gatePlayback(ctx, songs))
}

func (h *SongHandler) GetSong(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := mux.Vars(r)["id"]

	s, err := h.songs.GetSongByID(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrSongNotFound) {
			respondWithError(w, http.StatusNotFound, "Song not found")
			return
		}
		log.Printf("GetSong Handler: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Error fetching song")
		return
	}

	respondWithJSON(w, http.StatusOK, h.gatePlayback(ctx, []song.Song{*s})[0])
}

// GetLikedSongs returns the authenticated user's liked songs. Premium
// feature: requires an entitling subscription.
func (h *SongHandler) GetLikedSongs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.entitledUser(ctx, w)
	if !ok {
		return
	}

	songs, err := h.songs.GetLikedSongs(ctx, userID)
	if err != nil {
		log.Printf("GetLikedSongs Handler: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Error fetching liked songs")
		return
	}

	respondWithJSON(w, http.StatusOK, songs)
}

func (h *SongHandler) LikeSong(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.entitledUser(ctx, w)
	if !ok {
		return
	}

	songID := mux.Vars(r)["id"]

	if err := h.songs.LikeSong(ctx, userID, songID); err != nil {
		log.Printf("LikeSong Handler: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Error liking song")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "liked"})
}

func (h *SongHandler) UnlikeSong(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.entitledUser(ctx, w)
	if !ok {
		return
	}

	songID := mux.Vars(r)["id"]

	if err := h.songs.UnlikeSong(ctx, userID, songID); err != nil {
		log.Printf("UnlikeSong Handler: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Error unliking song")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "unliked"})
}

// entitledUser resolves the authenticated user and checks that a
// subscription currently entitles them. Writes the response itself on
// failure.
func (h *SongHandler) entitledUser(ctx context.Context, w http.ResponseWriter) (string, bool) {
	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return "", false
	}

	u, err := h.users.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return "", false
		}
		log.Printf("entitledUser: user lookup failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Error fetching user")
		return "", false
	}

	sub, err := h.billing.CurrentSubscription(ctx, u.ID)
	if err != nil {
		log.Printf("entitledUser: subscription check failed for user %s: %v", u.ID, err)
		respondWithError(w, http.StatusInternalServerError, "Error checking subscription")
		return "", false
	}
	if sub == nil || !sub.Status.Entitles() {
		respondWithError(w, http.StatusForbidden, "Active subscription required")
		return "", false
	}

	return u.ID, true
}

// gatePlayback blanks the full playback URL of uploaded songs for
// callers without an entitling subscription. Chart tracks carry only
// short previews and pass through untouched.
func (h *SongHandler) gatePlayback(ctx context.Context, songs []song.Song) []song.Song {
	if h.viewerEntitled(ctx) {
		return songs
	}

	gated := make([]song.Song, len(songs))
	copy(gated, songs)
	for i := range gated {
		if gated[i].Source == "local" {
			gated[i].SongPath = ""
		}
	}
	return gated
}

// viewerEntitled is the read-only counterpart of entitledUser: it
// never writes a response, it just answers whether the caller holds
// an entitling subscription. Anonymous callers and lookup failures
// count as not entitled.
func (h *SongHandler) viewerEntitled(ctx context.Context) bool {
	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		return false
	}

	u, err := h.users.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		return false
	}

	sub, err := h.billing.CurrentSubscription(ctx, u.ID)
	if err != nil {
		log.Printf("viewerEntitled: subscription check failed for user %s: %v", u.ID, err)
		return false
	}
	return sub != nil && sub.Status.Entitles()
}
