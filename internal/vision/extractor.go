package vision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/Terryjones1995/2kbot/internal/stats"
)

const extractionPrompt = `Read the player stats screenshot and report the values shown.
Use null for any field that is not visible or not legible. Do not guess.
win_pct is the win percentage as a number between 0 and 100.`

// extractionSchema fixes the JSON shape the model must return. Every
// field is independently nullable.
var extractionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"games_played": {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
		"win_pct":      {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
		"points":       {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
		"rebounds":     {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
		"assists":      {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
		"player_tag":   {Type: genai.TypeString, Nullable: genai.Ptr(true)},
		"platform":     {Type: genai.TypeString, Nullable: genai.Ptr(true)},
	},
}

// rawStats mirrors the extraction schema before normalization
type rawStats struct {
	GamesPlayed *float64 `json:"games_played"`
	WinPct      *float64 `json:"win_pct"`
	Points      *float64 `json:"points"`
	Rebounds    *float64 `json:"rebounds"`
	Assists     *float64 `json:"assists"`
	PlayerTag   *string  `json:"player_tag"`
	Platform    *string  `json:"platform"`
}

// ExtractionError means the screenshot could not be read well enough to
// act on. Nothing should be persisted; the user should retry with a
// clearer image.
type ExtractionError struct {
	Missing []string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("could not read required fields from screenshot: %s", strings.Join(e.Missing, ", "))
}

// Fingerprint returns the content hash of the raw image bytes, used for
// duplicate-upload detection
func Fingerprint(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// Extractor turns screenshots into normalized player stats
type Extractor struct {
	client *Client
}

// NewExtractor creates a new stats extractor
func NewExtractor(client *Client) *Extractor {
	return &Extractor{client: client}
}

// Extract reads player stats from a screenshot. It returns an
// *ExtractionError when the tag, games played, or win percentage cannot
// be read; points, rebounds, assists, and platform may be absent without
// failing the extraction.
func (e *Extractor) Extract(ctx context.Context, image []byte, mimeType string) (*stats.PlayerStats, error) {
	text, err := e.client.Generate(ctx, image, mimeType, extractionPrompt, extractionSchema)
	if err != nil {
		return nil, err
	}

	var raw rawStats
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	return normalize(&raw)
}

// normalize validates the raw extraction and applies the essential-field
// policy
func normalize(raw *rawStats) (*stats.PlayerStats, error) {
	tag := normalizeTag(raw.PlayerTag)
	games := finiteNumber(raw.GamesPlayed)
	winPct := finiteNumber(raw.WinPct)

	var missing []string
	if tag == "" {
		missing = append(missing, "player tag")
	}
	if games == nil {
		missing = append(missing, "games played")
	}
	if winPct == nil {
		missing = append(missing, "win percentage")
	}
	if len(missing) > 0 {
		return nil, &ExtractionError{Missing: missing}
	}

	s := &stats.PlayerStats{
		PlayerTag:   tag,
		GamesPlayed: int(*games),
		WinPct:      *winPct,
		Points:      finiteInt(raw.Points),
		Rebounds:    finiteInt(raw.Rebounds),
		Assists:     finiteInt(raw.Assists),
	}
	if raw.Platform != nil {
		s.Platform = strings.TrimSpace(*raw.Platform)
	}
	return s, nil
}

// normalizeTag trims whitespace; blank tags count as missing
func normalizeTag(tag *string) string {
	if tag == nil {
		return ""
	}
	return strings.TrimSpace(*tag)
}

// finiteNumber drops nil, NaN, and infinite values
func finiteNumber(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

func finiteInt(v *float64) *int {
	f := finiteNumber(v)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}
