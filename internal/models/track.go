package models

// AudioFeatures is the per-track feature vector exposed by providers that
// analyze their catalog. All values are in [0, 1] except Tempo (BPM).
type AudioFeatures struct {
	Energy           float64 `json:"energy"`
	Danceability     float64 `json:"danceability"`
	Valence          float64 `json:"valence"`
	Tempo            float64 `json:"tempo"`
	Acousticness     float64 `json:"acousticness"`
	Instrumentalness float64 `json:"instrumentalness"`
	Liveness         float64 `json:"liveness"`
	Speechiness      float64 `json:"speechiness"`
}

// Track is the unified representation of a recording across providers.
//
// A Track is immutable once constructed; deduplication may produce a
// canonical instance that carries external URLs from both providers while
// counting against a single source quota.
type Track struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Artist       string              `json:"artist"`
	Album        string              `json:"album,omitempty"`
	DurationMS   int                 `json:"duration_ms"`
	PreviewURL   string              `json:"preview_url,omitempty"`
	ImageURL     string              `json:"image_url,omitempty"`
	ExternalURLs map[Provider]string `json:"external_urls,omitempty"`
	Source       Provider            `json:"source"`
	URI          string              `json:"uri,omitempty"`
	Features     *AudioFeatures      `json:"features,omitempty"`
}

// ArtistRef is a lightweight artist reference inside a taste profile.
type ArtistRef struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres,omitempty"`
	Source Provider `json:"source"`
}
