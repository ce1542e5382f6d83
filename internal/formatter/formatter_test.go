package formatter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

func testPlaylist() *models.Playlist {
	playlist := models.NewPlaylist(1, "user-1", "Test Playlist", "a test prompt")
	playlist.SetID(shared.GenerateID())
	playlist.Description = "A test playlist"
	playlist.SetTracks([]models.Track{
		{
			ID:         "track1",
			Name:       "Song One",
			Artist:     "Artist One",
			Album:      "Album One",
			DurationMS: 180_000,
			Source:     models.ProviderSpotify,
			ExternalURLs: map[models.Provider]string{
				models.ProviderSpotify: "https://open.spotify.com/track/track1",
			},
		},
		{
			ID:         "track2",
			Name:       "Song Two",
			Artist:     "Artist Two",
			DurationMS: 240_000,
			Source:     models.ProviderYouTube,
		},
	})
	return playlist
}

func TestExporters(t *testing.T) {
	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(testPlaylist())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		output := string(data)

		if !strings.Contains(output, "Position,ID,Title,Artist,Album,Duration,Source") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "track1") {
			t.Errorf("CSV missing track1 ID")
		}
		if !strings.Contains(output, "Song One") {
			t.Errorf("CSV missing track1 title")
		}
		if !strings.Contains(output, "spotify") {
			t.Errorf("CSV missing track1 source")
		}
		if !strings.Contains(output, "youtube") {
			t.Errorf("CSV missing track2 source")
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(testPlaylist(), "")
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)

		if !strings.Contains(output, "# Test Playlist") {
			t.Errorf("Markdown missing title, got: %s", output)
		}
		if !strings.Contains(output, "**Description**: A test playlist") {
			t.Errorf("Markdown missing description")
		}
		if !strings.Contains(output, "**Prompt**: a test prompt") {
			t.Errorf("Markdown missing prompt")
		}
		if !strings.Contains(output, "[Artist One - Song One](https://open.spotify.com/track/track1)") {
			t.Errorf("Markdown missing linked track, got: %s", output)
		}
		if !strings.Contains(output, "2. Artist Two - Song Two [4:00]") {
			t.Errorf("Markdown missing unlinked track, got: %s", output)
		}
	})

	t.Run("ExportToMarkdownWithCover", func(t *testing.T) {
		data, err := ExportToMarkdown(testPlaylist(), "cover.jpg")
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}
		if !strings.Contains(string(data), "![Cover](cover.jpg)") {
			t.Errorf("Markdown missing cover image")
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(testPlaylist())
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)

		if !strings.Contains(output, "Playlist: Test Playlist") {
			t.Errorf("Text missing title")
		}
		if !strings.Contains(output, "Tracks: 2") {
			t.Errorf("Text missing track count")
		}
		if !strings.Contains(output, "1. Artist One - Song One") {
			t.Errorf("Text missing first track")
		}
	})

	t.Run("ToMetadataJSON", func(t *testing.T) {
		playlist := testPlaylist()
		playlist.MarkExported(models.ProviderSpotify)

		data, err := ToMetadataJSON(playlist)
		if err != nil {
			t.Fatalf("ToMetadataJSON failed: %v", err)
		}

		var metadata map[string]any
		if err := json.Unmarshal(data, &metadata); err != nil {
			t.Fatalf("metadata is not valid JSON: %v", err)
		}
		if metadata["name"] != "Test Playlist" {
			t.Errorf("metadata missing name, got %v", metadata["name"])
		}
		if metadata["track_count"].(float64) != 2 {
			t.Errorf("metadata missing track count, got %v", metadata["track_count"])
		}
		if metadata["total_duration_seconds"].(float64) != 420 {
			t.Errorf("metadata missing duration, got %v", metadata["total_duration_seconds"])
		}
	})
}

func TestFileExports(t *testing.T) {
	t.Run("WriteCSVExport", func(t *testing.T) {
		dir := t.TempDir()
		base := filepath.Join(dir, "mix")

		result, err := WriteCSVExport(testPlaylist(), base)
		if err != nil {
			t.Fatalf("WriteCSVExport failed: %v", err)
		}

		if _, err := os.Stat(result.TracksFile); err != nil {
			t.Errorf("tracks file not created: %v", err)
		}
		if _, err := os.Stat(result.MetadataFile); err != nil {
			t.Errorf("metadata file not created: %v", err)
		}
	})

	t.Run("WriteMarkdownExport", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "mix")

		result, err := WriteMarkdownExport(testPlaylist(), dir, "")
		if err != nil {
			t.Fatalf("WriteMarkdownExport failed: %v", err)
		}

		readme := filepath.Join(dir, "README.md")
		if _, err := os.Stat(readme); err != nil {
			t.Errorf("README not created: %v", err)
		}
		if len(result.Files) != 1 || result.Files[0] != readme {
			t.Errorf("unexpected result files: %v", result.Files)
		}
	})
}
