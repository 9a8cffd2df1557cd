package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"soundDropAPI/internal/types/song"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const deezerAPIBase = "https://api.deezer.com"

var ErrSongNotFound = errors.New("song not found")

// SongService serves the browsing surface: uploaded songs from the
// local store merged with chart tracks from the Deezer API. Deezer is
// best-effort; its failures degrade to local-only results.
type SongService struct {
	db     *pgxpool.Pool
	client *http.Client
}

func NewSongService(db *pgxpool.Pool) *SongService {
	return &SongService{
		db:     db,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SongService) GetSongs(ctx context.Context) ([]song.Song, error) {
	local, err := s.localSongs(ctx, "")
	if err != nil {
		return nil, err
	}

	chart, err := s.deezerChart(ctx)
	if err != nil {
		log.Printf("[songs] Deezer chart fetch failed, serving local only: %v", err)
		return local, nil
	}

	return append(local, chart...), nil
}

func (s *SongService) SearchSongs(ctx context.Context, title string) ([]song.Song, error) {
	if title == "" {
		return s.GetSongs(ctx)
	}

	local, err := s.localSongs(ctx, title)
	if err != nil {
		return nil, err
	}

	remote, err := s.deezerSearch(ctx, title)
	if err != nil {
		log.Printf("[songs] Deezer search failed, serving local only: %v", err)
		return local, nil
	}

	return append(local, remote...), nil
}

func (s *SongService) GetSongByID(ctx context.Context, id string) (*song.Song, error) {
	query := `
	SELECT id, user_id, title, author, song_path, image_path, created_at
	FROM songs
	WHERE id = $1
	`

	sg := &song.Song{Source: "local"}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&sg.ID, &sg.UserID, &sg.Title, &sg.Author, &sg.SongPath, &sg.ImagePath, &sg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSongNotFound
		}
		return nil, fmt.Errorf("failed to get song %s: %w", id, err)
	}

	return sg, nil
}

func (s *SongService) GetLikedSongs(ctx context.Context, userID string) ([]song.Song, error) {
	query := `
	SELECT s.id, s.user_id, s.title, s.author, s.song_path, s.image_path, s.created_at
	FROM liked_songs l
	JOIN songs s ON s.id = l.song_id
	WHERE l.user_id = $1
	ORDER BY l.created_at DESC
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get liked songs for user %s: %w", userID, err)
	}
	defer rows.Close()

	return scanSongs(rows)
}

func (s *SongService) LikeSong(ctx context.Context, userID, songID string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO liked_songs (user_id, song_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, songID,
	)
	if err != nil {
		return fmt.Errorf("failed to like song %s: %w", songID, err)
	}
	return nil
}

func (s *SongService) UnlikeSong(ctx context.Context, userID, songID string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM liked_songs WHERE user_id = $1 AND song_id = $2`,
		userID, songID,
	)
	if err != nil {
		return fmt.Errorf("failed to unlike song %s: %w", songID, err)
	}
	return nil
}

func (s *SongService) localSongs(ctx context.Context, title string) ([]song.Song, error) {
	query := `
	SELECT id, user_id, title, author, song_path, image_path, created_at
	FROM songs
	`
	args := []interface{}{}
	if title != "" {
		query += ` WHERE title ILIKE $1`
		args = append(args, "%"+title+"%")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list songs: %w", err)
	}
	defer rows.Close()

	return scanSongs(rows)
}

func scanSongs(rows pgx.Rows) ([]song.Song, error) {
	songs := []song.Song{}
	for rows.Next() {
		sg := song.Song{Source: "local"}
		err := rows.Scan(&sg.ID, &sg.UserID, &sg.Title, &sg.Author, &sg.SongPath, &sg.ImagePath, &sg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		songs = append(songs, sg)
	}
	return songs, rows.Err()
}

type deezerTrack struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Preview string `json:"preview"`
	Artist  struct {
		Name string `json:"name"`
	} `json:"artist"`
	Album struct {
		CoverMedium string `json:"cover_medium"`
	} `json:"album"`
}

type deezerList struct {
	Data []deezerTrack `json:"data"`
}

func (s *SongService) deezerChart(ctx context.Context) ([]song.Song, error) {
	return s.fetchDeezer(ctx, deezerAPIBase+"/chart/0/tracks?limit=10")
}

func (s *SongService) deezerSearch(ctx context.Context, title string) ([]song.Song, error) {
	return s.fetchDeezer(ctx, deezerAPIBase+"/search?q="+url.QueryEscape(title))
}

func (s *SongService) fetchDeezer(ctx context.Context, endpoint string) ([]song.Song, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deezer returned status %d", res.StatusCode)
	}

	var list deezerList
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode deezer response: %w", err)
	}

	songs := make([]song.Song, 0, len(list.Data))
	for _, track := range list.Data {
		songs = append(songs, song.Song{
			// Prefix avoids id collisions with uploaded songs.
			ID:        "deezer-" + strconv.FormatInt(track.ID, 10),
			Title:     track.Title,
			Author:    track.Artist.Name,
			SongPath:  track.Preview,
			ImagePath: track.Album.CoverMedium,
			Source:    "deezer",
		})
	}
	return songs, nil
}
