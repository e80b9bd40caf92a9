package sources

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/assessor-platform/legistrack/config"
	"github.com/assessor-platform/legistrack/internal/bills"
)

// SourceLocalDocs is the registry name of the local document tracker.
const SourceLocalDocs = "local_docs"

// LocalDocsClient tracks bill documents dropped into a local directory.
// File names encode the bill number ("HB_1234.txt"); an optional header
// block at the top of each file carries title, status, and action date.
type LocalDocsClient struct {
	cfg config.LocalDocsConfig
}

func NewLocalDocsClient(cfg config.LocalDocsConfig) *LocalDocsClient {
	return &LocalDocsClient{cfg: cfg}
}

func (c *LocalDocsClient) ID() string      { return SourceLocalDocs }
func (c *LocalDocsClient) Available() bool { return c.cfg.Dir != "" }

var docNameRe = regexp.MustCompile(`(?i)^([A-Z]{2,4})[_\- ]?(\d{3,5})`)

func (c *LocalDocsClient) FetchSince(ctx context.Context, cursor Cursor) ([]bills.RawRecord, Cursor, error) {
	if !c.Available() {
		return nil, cursor, ErrUnavailable
	}

	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cursor, &PermanentError{Op: "read docs dir", Err: err}
		}
		return nil, cursor, &TransientError{Op: "read docs dir", Err: err}
	}

	var out []bills.RawRecord
	newCursor := cursor
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		m := docNameRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !cursor.LastFetch.IsZero() && !info.ModTime().After(cursor.LastFetch) {
			continue
		}

		number := strings.ToUpper(m[1]) + " " + m[2]
		rec, err := c.readDocument(filepath.Join(c.cfg.Dir, entry.Name()), number, info.ModTime())
		if err != nil {
			return nil, cursor, &TransientError{Op: "read document", Err: err}
		}
		out = append(out, rec)
		if info.ModTime().After(newCursor.LastFetch) {
			newCursor.LastFetch = info.ModTime()
		}
		select {
		case <-ctx.Done():
			return nil, cursor, ctx.Err()
		default:
		}
	}
	return out, newCursor, nil
}

// readDocument parses a bill document. Leading "Key: value" lines form a
// header; everything after the first blank line is bill text.
func (c *LocalDocsClient) readDocument(path, number string, modTime time.Time) (bills.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return bills.RawRecord{}, err
	}
	defer f.Close()

	rec := bills.RawRecord{
		Source:       SourceLocalDocs,
		SourceBillID: filepath.Base(path),
		Jurisdiction: "WA",
		BillNumber:   number,
		LastAction:   modTime,
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	inHeader := true
	var text strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if inHeader {
			if strings.TrimSpace(line) == "" {
				inHeader = false
				continue
			}
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				inHeader = false
			} else {
				value = strings.TrimSpace(value)
				switch strings.ToLower(strings.TrimSpace(key)) {
				case "title":
					rec.Title = value
					continue
				case "status":
					rec.Status = value
					continue
				case "summary":
					rec.Summary = value
					continue
				case "jurisdiction":
					rec.Jurisdiction = value
					continue
				case "date":
					if t, err := time.Parse("2006-01-02", value); err == nil {
						rec.LastAction = t
					}
					continue
				default:
					inHeader = false
				}
			}
		}
		text.WriteString(line)
		text.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return bills.RawRecord{}, err
	}
	rec.FullText = strings.TrimSpace(text.String())
	rec.Payload, _ = json.Marshal(map[string]string{"path": path})
	return rec, nil
}
