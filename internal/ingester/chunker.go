package ingester

import (
	"fmt"
	"io"
	"strings"
)

// chunkPart is one persisted-chunk payload: the header line plus a run of
// complete data lines.
type chunkPart struct {
	data string
}

func (p chunkPart) reader() io.Reader { return strings.NewReader(p.data) }
func (p chunkPart) size() int64       { return int64(len(p.data)) }

// splitCSV cuts decoded CSV text into parts of roughly chunkBytes each,
// always along line boundaries, and prepends the header line to every part
// so each chunk parses standalone. A header-only file yields one part.
//
// Quoted fields containing newlines are not split correctly by this scheme;
// such rows surface as per-row parse errors in the affected chunk rather
// than failing the job.
func splitCSV(text string, chunkBytes int64) ([]chunkPart, error) {
	if chunkBytes <= 0 {
		chunkBytes = 8 << 20
	}
	nl := strings.IndexByte(text, '\n')
	if nl < 0 {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("empty file")
		}
		// Header only, no trailing newline.
		return []chunkPart{{data: text + "\n"}}, nil
	}
	header := text[:nl+1]
	body := text[nl+1:]
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("empty header row")
	}
	if body == "" {
		return []chunkPart{{data: header}}, nil
	}

	var parts []chunkPart
	for len(body) > 0 {
		if int64(len(body)) <= chunkBytes {
			parts = append(parts, chunkPart{data: header + ensureNewline(body)})
			break
		}
		cut := strings.LastIndexByte(body[:chunkBytes], '\n')
		if cut < 0 {
			// A single line longer than chunkBytes; take it whole.
			cut = strings.IndexByte(body, '\n')
			if cut < 0 {
				parts = append(parts, chunkPart{data: header + ensureNewline(body)})
				break
			}
		}
		parts = append(parts, chunkPart{data: header + body[:cut+1]})
		body = body[cut+1:]
	}
	return parts, nil
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
