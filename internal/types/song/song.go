package song

import "time"

type Song struct {
	ID        string    `json:"id" db:"id"`
	UserID    *string   `json:"userId" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	Author    string    `json:"author" db:"author"`
	SongPath  string    `json:"songPath" db:"song_path"`
	ImagePath string    `json:"imagePath" db:"image_path"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	// Source is "local" for uploaded songs and "deezer" for chart
	// tracks merged in from the Deezer API.
	Source string `json:"source"`
}
