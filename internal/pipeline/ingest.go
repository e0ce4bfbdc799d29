package pipeline

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Event is one observed access from a proxy or gateway log.
type Event struct {
	URLFull    string `json:"url_full"`
	HTTPMethod string `json:"http_method"`
	BytesSent  int64  `json:"bytes_sent"`
}

// Ingestor yields events for one run. ManifestHash identifies the input so
// reruns over the same data are recognizable.
type Ingestor interface {
	Events(ctx context.Context, emit func(Event) error) error
	ManifestHash() string
}

// JSONLIngestor reads one JSON event per line from a log file. Blank lines
// are skipped; a malformed line is logged and skipped, never fatal.
type JSONLIngestor struct {
	path string
	hash string
}

// NewJSONLIngestor opens the file once to hash its contents.
func NewJSONLIngestor(path string) (*JSONLIngestor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open log file %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, eris.Wrapf(err, "pipeline: hash log file %s", path)
	}

	return &JSONLIngestor{
		path: path,
		hash: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (j *JSONLIngestor) ManifestHash() string { return j.hash }

func (j *JSONLIngestor) Events(ctx context.Context, emit func(Event) error) error {
	f, err := os.Open(j.path)
	if err != nil {
		return eris.Wrapf(err, "pipeline: open log file %s", j.path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			zap.L().Warn("pipeline: skipping malformed log line",
				zap.Int("line", line),
				zap.Error(err),
			)
			continue
		}
		if ev.URLFull == "" {
			continue
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return eris.Wrapf(err, "pipeline: read log file %s", j.path)
	}
	return nil
}

// SliceIngestor serves a fixed event list. Used by tests and embedding
// callers that already hold events in memory.
type SliceIngestor struct {
	Items []Event
	Hash  string
}

func (s *SliceIngestor) ManifestHash() string {
	if s.Hash != "" {
		return s.Hash
	}
	h := sha256.New()
	for _, ev := range s.Items {
		b, _ := json.Marshal(ev)
		h.Write(b)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *SliceIngestor) Events(ctx context.Context, emit func(Event) error) error {
	for _, ev := range s.Items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}
