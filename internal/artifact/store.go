// Package artifact is the file-backed store for telephone step artifacts:
// drawing images, descriptions, topic answers and stroke-event logs, laid
// out per room/chain/step. Writes are best-effort; the in-memory session
// state never depends on them succeeding. The read side exists so clients
// can reconstruct state via snapshot queries instead of replaying the live
// event stream.
package artifact

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// File names within one step directory.
const (
	fileMeta   = "meta.json"
	fileDesc   = "desc.json"
	fileSubmit = "submit.json"
	fileAnswer = "answer.json"
	fileEvents = "events.jsonl"
)

var imageFiles = []string{"image.webp", "image.png", "image.jpg"}

// Store reads and writes step artifacts under a single root directory.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the directory all artifacts live under. The HTTP layer
// serves it as /uploads.
func (s *Store) Root() string {
	return s.root
}

// Submission is the content of a submit.json or desc.json file.
type Submission struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	From     string          `json:"from"`
	Username string          `json:"username,omitempty"`
	At       int64           `json:"at"`
}

// TopicAnswer is the step-0 answer.json content: the topic that seeded a
// chain.
type TopicAnswer struct {
	Answer   string `json:"answer"`
	From     string `json:"from"`
	Username string `json:"username,omitempty"`
	At       int64  `json:"at"`
}

// ImageMeta is written next to an uploaded drawing.
type ImageMeta struct {
	Format     string `json:"format"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	UploadedAt int64  `json:"uploadedAt"`
	RoomID     string `json:"roomId"`
	ChainID    string `json:"chainId"`
	StepIndex  int    `json:"stepIndex"`
	PlayerID   string `json:"playerId,omitempty"`
}

// ChainSummary describes one chain directory for the list endpoint.
type ChainSummary struct {
	ChainID     string `json:"chainId"`
	Steps       int    `json:"steps"`
	LastUpdated int64  `json:"lastUpdated,omitempty"`
}

// StepSummary describes one step within a chain listing.
type StepSummary struct {
	StepIndex int             `json:"stepIndex"`
	ImageURL  string          `json:"imageUrl,omitempty"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	Type      string          `json:"type"`
	HasSubmit bool            `json:"hasSubmit"`
	HasEvents bool            `json:"hasEvents"`
}

// StepDetail is the full snapshot of one step.
type StepDetail struct {
	StepIndex   int             `json:"stepIndex"`
	Meta        json.RawMessage `json:"meta,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Desc        json.RawMessage `json:"desc,omitempty"`
	Submit      json.RawMessage `json:"submit,omitempty"`
	EventsCount int             `json:"eventsCount"`
}

// ValidateID rejects identifiers that would escape the store's directory
// tree when used as path segments.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("MISSING_FIELDS: empty identifier")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("MISSING_FIELDS: invalid identifier %q", id)
	}
	return nil
}

func (s *Store) stepDir(roomID, chainID string, stepIndex int) string {
	return filepath.Join(s.root, "rooms", roomID, "chains", chainID, "steps", strconv.Itoa(stepIndex))
}

func (s *Store) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("STORAGE_ERROR: create dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("STORAGE_ERROR: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("STORAGE_ERROR: write %s: %w", path, err)
	}
	return nil
}

// WriteSubmission stores a draw or describe submission. Descriptions land in
// desc.json, drawings in submit.json, matching what the snapshot endpoints
// use to classify steps.
func (s *Store) WriteSubmission(roomID, chainID string, stepIndex int, sub Submission) error {
	name := fileSubmit
	if sub.Type == "desc" {
		name = fileDesc
	}
	return s.writeJSON(filepath.Join(s.stepDir(roomID, chainID, stepIndex), name), sub)
}

// WriteTopicAnswer stores the chosen topic as the step-0 answer artifact.
func (s *Store) WriteTopicAnswer(roomID, chainID string, answer TopicAnswer) error {
	return s.writeJSON(filepath.Join(s.stepDir(roomID, chainID, 0), fileAnswer), answer)
}

// AppendStrokeEvents appends drawing stroke events to the step's JSONL log.
// The log is append-only; events are written verbatim as received, one JSON
// object per line.
func (s *Store) AppendStrokeEvents(roomID, chainID string, stepIndex int, events []json.RawMessage) error {
	dir := s.stepDir(roomID, chainID, stepIndex)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("STORAGE_ERROR: create dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, fileEvents), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("STORAGE_ERROR: open events log: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, ev := range events {
		if _, err := w.Write(ev); err != nil {
			return fmt.Errorf("STORAGE_ERROR: append event: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("STORAGE_ERROR: append event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("STORAGE_ERROR: flush events log: %w", err)
	}
	return nil
}

// SaveImage stores an uploaded drawing in the client's encoding and writes
// its metadata. Returns the URL path the image is served under.
func (s *Store) SaveImage(roomID, chainID string, stepIndex int, format string, data []byte, meta ImageMeta) (string, error) {
	var name string
	switch format {
	case "webp":
		name = "image.webp"
	case "png":
		name = "image.png"
	case "jpeg", "jpg":
		name = "image.jpg"
	default:
		return "", fmt.Errorf("MISSING_FIELDS: unsupported image format %q", format)
	}

	dir := s.stepDir(roomID, chainID, stepIndex)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("STORAGE_ERROR: create dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("STORAGE_ERROR: write image: %w", err)
	}
	if err := s.writeJSON(filepath.Join(dir, fileMeta), meta); err != nil {
		return "", err
	}

	return imageURL(roomID, chainID, stepIndex, name), nil
}

func imageURL(roomID, chainID string, stepIndex int, name string) string {
	return fmt.Sprintf("/uploads/rooms/%s/chains/%s/steps/%d/%s", roomID, chainID, stepIndex, name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func readRawJSON(path string) json.RawMessage {
	data, err := os.ReadFile(path)
	if err != nil || !json.Valid(data) {
		return nil
	}
	return json.RawMessage(data)
}

// ListChains enumerates the chains stored for a room. A missing room
// directory is an empty result, not an error.
func (s *Store) ListChains(roomID string) ([]ChainSummary, error) {
	chainsDir := filepath.Join(s.root, "rooms", roomID, "chains")
	entries, err := os.ReadDir(chainsDir)
	if errors.Is(err, os.ErrNotExist) {
		return []ChainSummary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("STORAGE_ERROR: read chains dir: %w", err)
	}

	chains := make([]ChainSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		summary := ChainSummary{ChainID: entry.Name()}

		stepsDir := filepath.Join(chainsDir, entry.Name(), "steps")
		stepEntries, err := os.ReadDir(stepsDir)
		if err == nil {
			for _, step := range stepEntries {
				if !step.IsDir() {
					continue
				}
				summary.Steps++
				if info, err := os.Stat(filepath.Join(stepsDir, step.Name())); err == nil {
					if mtime := info.ModTime().UnixMilli(); mtime > summary.LastUpdated {
						summary.LastUpdated = mtime
					}
				}
			}
		}
		chains = append(chains, summary)
	}

	sort.Slice(chains, func(i, j int) bool { return chains[i].ChainID < chains[j].ChainID })
	return chains, nil
}

// ChainSteps returns every stored step of a chain in order, plus the step-0
// topic answer when present.
func (s *Store) ChainSteps(roomID, chainID string) ([]StepSummary, string, error) {
	stepsDir := filepath.Join(s.root, "rooms", roomID, "chains", chainID, "steps")
	entries, err := os.ReadDir(stepsDir)
	if errors.Is(err, os.ErrNotExist) {
		return []StepSummary{}, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("STORAGE_ERROR: read steps dir: %w", err)
	}

	indexes := make([]int, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if idx, err := strconv.Atoi(entry.Name()); err == nil {
			indexes = append(indexes, idx)
		}
	}
	sort.Ints(indexes)

	var answer string
	steps := make([]StepSummary, 0, len(indexes))
	for _, idx := range indexes {
		dir := filepath.Join(stepsDir, strconv.Itoa(idx))

		if idx == 0 {
			var topic TopicAnswer
			if data, err := os.ReadFile(filepath.Join(dir, fileAnswer)); err == nil {
				if json.Unmarshal(data, &topic) == nil {
					answer = topic.Answer
				}
			}
		}

		summary := StepSummary{
			StepIndex: idx,
			Meta:      readRawJSON(filepath.Join(dir, fileMeta)),
			HasSubmit: fileExists(filepath.Join(dir, fileSubmit)),
			HasEvents: fileExists(filepath.Join(dir, fileEvents)),
		}
		for _, name := range imageFiles {
			if fileExists(filepath.Join(dir, name)) {
				summary.ImageURL = imageURL(roomID, chainID, idx, name)
				break
			}
		}

		// A stroke log marks a drawing step even when a description
		// was also written there; only a bare desc.json is a describe
		// step.
		switch {
		case summary.HasEvents:
			summary.Type = "draw"
		case fileExists(filepath.Join(dir, fileDesc)):
			summary.Type = "desc"
		default:
			summary.Type = "draw"
		}

		steps = append(steps, summary)
	}

	return steps, answer, nil
}

// StepDetail returns everything stored for a single step. Missing files
// leave the corresponding fields empty.
func (s *Store) StepDetail(roomID, chainID string, stepIndex int) (StepDetail, error) {
	dir := s.stepDir(roomID, chainID, stepIndex)

	detail := StepDetail{
		StepIndex: stepIndex,
		Meta:      readRawJSON(filepath.Join(dir, fileMeta)),
		Desc:      readRawJSON(filepath.Join(dir, fileDesc)),
		Submit:    readRawJSON(filepath.Join(dir, fileSubmit)),
	}
	for _, name := range imageFiles {
		if fileExists(filepath.Join(dir, name)) {
			detail.ImageURL = imageURL(roomID, chainID, stepIndex, name)
			break
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, fileEvents)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) != "" {
				detail.EventsCount++
			}
		}
	}

	return detail, nil
}

// StrokeEvents reads the raw stroke-event log for a step. Unparseable lines
// are skipped.
func (s *Store) StrokeEvents(roomID, chainID string, stepIndex int) ([]json.RawMessage, error) {
	path := filepath.Join(s.stepDir(roomID, chainID, stepIndex), fileEvents)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("STORAGE_ERROR: read events log: %w", err)
	}

	events := []json.RawMessage{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !json.Valid([]byte(line)) {
			continue
		}
		events = append(events, json.RawMessage(line))
	}
	return events, nil
}

// Sweep removes artifacts older than the retention window, then prunes
// directories left empty. Errors on individual entries are skipped so one
// bad file cannot stall the sweep.
func (s *Store) Sweep(olderThan time.Duration) (int, error) {
	if _, err := os.Stat(s.root); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0

	var walk func(dir string)
	walk = func(dir string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if entry.IsDir() {
				walk(full)
				if children, err := os.ReadDir(full); err == nil && len(children) == 0 && info.ModTime().Before(cutoff) {
					if os.Remove(full) == nil {
						removed++
					}
				}
			} else if info.ModTime().Before(cutoff) {
				if os.Remove(full) == nil {
					removed++
				}
			}
		}
	}
	walk(s.root)

	return removed, nil
}
