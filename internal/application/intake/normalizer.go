// Package intake turns a raw submission into a validated analysis.Request.
package intake

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bryanwahyu/analyst-agent/internal/application"
	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

// File is one uploaded part as received by a transport.
type File struct {
	Field     string
	Name      string
	MediaType string
	Content   []byte
}

// Submission is the raw request: question text plus files.
type Submission struct {
	ID       string
	Question string
	Files    []File
}

// DefaultAllowedTypes covers tabular data, documents and images. Entries may
// end in "/*".
var DefaultAllowedTypes = []string{
	"text/*",
	"application/json",
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-excel",
	"application/vnd.apache.parquet",
	"application/zip",
	"image/png",
	"image/jpeg",
	"image/webp",
}

// extension table for data formats missing from the mime package's builtin set.
var dataTypes = map[string]string{
	".csv":     "text/csv",
	".tsv":     "text/tab-separated-values",
	".txt":     "text/plain",
	".md":      "text/markdown",
	".json":    "application/json",
	".jsonl":   "application/x-ndjson",
	".xlsx":    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":     "application/vnd.ms-excel",
	".parquet": "application/vnd.apache.parquet",
	".zip":     "application/zip",
}

// Normalizer validates submissions. It holds no per-request state.
type Normalizer struct {
	AllowedTypes     []string
	MaxFileBytes     int64
	MaxTotalBytes    int64
	MaxQuestionBytes int
	Clock            application.Clock
}

// NewNormalizer returns a Normalizer with defaults filled in for zero values.
func NewNormalizer(allowed []string, maxFile, maxTotal int64) *Normalizer {
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}
	if maxFile <= 0 {
		maxFile = 25 << 20
	}
	if maxTotal <= 0 {
		maxTotal = 100 << 20
	}
	return &Normalizer{
		AllowedTypes:     allowed,
		MaxFileBytes:     maxFile,
		MaxTotalBytes:    maxTotal,
		MaxQuestionBytes: 64 << 10,
		Clock:            application.SystemClock{},
	}
}

// Normalize validates sub and builds the immutable request. Every rejection
// wraps analysis.ErrInvalidInput.
func (n *Normalizer) Normalize(ctx context.Context, sub Submission) (*analysis.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := sanitizeQuestion(sub.Question)
	if q == "" {
		return nil, fmt.Errorf("%w: question is empty", analysis.ErrInvalidInput)
	}
	if n.MaxQuestionBytes > 0 && len(q) > n.MaxQuestionBytes {
		return nil, fmt.Errorf("%w: question exceeds %d bytes", analysis.ErrInvalidInput, n.MaxQuestionBytes)
	}

	var (
		total int64
		atts  = make([]analysis.Attachment, 0, len(sub.Files))
		blobs = make(map[analysis.Digest][]byte, len(sub.Files))
		seen  = make(map[string]int, len(sub.Files))
	)
	for i, f := range sub.Files {
		size := int64(len(f.Content))
		if n.MaxFileBytes > 0 && size > n.MaxFileBytes {
			return nil, fmt.Errorf("%w: attachment %q is %d bytes, limit %d", analysis.ErrInvalidInput, f.Name, size, n.MaxFileBytes)
		}
		total += size
		if n.MaxTotalBytes > 0 && total > n.MaxTotalBytes {
			return nil, fmt.Errorf("%w: attachments exceed %d bytes in total", analysis.ErrInvalidInput, n.MaxTotalBytes)
		}

		name := uniqueName(sanitizeName(f.Name, f.Field, i), seen)
		mt := ResolveMediaType(f.MediaType, name, f.Content)
		if !n.allowed(mt) {
			return nil, fmt.Errorf("%w: attachment %q has unsupported media type %s", analysis.ErrInvalidInput, name, mt)
		}

		d := analysis.DigestOf(f.Content)
		blobs[d] = f.Content
		atts = append(atts, analysis.Attachment{Name: name, MediaType: mt, Digest: d, Size: size})
	}

	id := sub.ID
	if id == "" {
		id = uuid.NewString()
	}
	clock := n.Clock
	if clock == nil {
		clock = application.SystemClock{}
	}
	return analysis.NewRequest(id, q, atts, blobs, clock.Now())
}

func (n *Normalizer) allowed(mt string) bool {
	for _, a := range n.AllowedTypes {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == mt || a == "*/*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(mt, prefix+"/") {
			return true
		}
	}
	return false
}

// ResolveMediaType picks the declared type, then the extension, then content
// sniffing. Parameters are dropped and the result is lower case.
func ResolveMediaType(declared, name string, content []byte) string {
	if mt := baseType(declared); mt != "" && mt != "application/octet-stream" {
		return mt
	}
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := dataTypes[ext]; ok {
		return mt
	}
	if mt := baseType(mime.TypeByExtension(ext)); mt != "" {
		return mt
	}
	return baseType(http.DetectContentType(content))
}

func baseType(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

func sanitizeQuestion(q string) string {
	q = strings.ToValidUTF8(q, "")
	q = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == utf8.RuneError, unicode.IsControl(r):
			return -1
		}
		return r
	}, q)
	return strings.TrimSpace(q)
}

func sanitizeName(name, field string, i int) string {
	if name == "" {
		name = field
	}
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "_" {
		return "file_" + strconv.Itoa(i)
	}
	return name
}

// uniqueName suffixes repeated names: data.csv, data_2.csv, data_3.csv.
func uniqueName(name string, seen map[string]int) string {
	seen[name]++
	if seen[name] == 1 {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for k := seen[name]; ; k++ {
		cand := stem + "_" + strconv.Itoa(k) + ext
		if _, taken := seen[cand]; !taken {
			seen[cand] = 1
			return cand
		}
	}
}
