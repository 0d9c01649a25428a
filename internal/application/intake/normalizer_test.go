package intake

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestNormalizer() *Normalizer {
	n := NewNormalizer(nil, 1024, 2048)
	n.Clock = fixedClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	return n
}

func TestNormalizeBuildsRequest(t *testing.T) {
	n := newTestNormalizer()
	csv := []byte("a,b\n1,2\n")
	req, err := n.Normalize(context.Background(), Submission{
		ID:       "r1",
		Question: "  What is the sum of column a?\x00\r\n",
		Files: []File{
			{Field: "data", Name: "sales.csv", Content: csv},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "r1", req.ID())
	assert.Equal(t, "What is the sum of column a?", req.Question())
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), req.ReceivedAt())

	atts := req.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, "sales.csv", atts[0].Name)
	assert.Equal(t, "text/csv", atts[0].MediaType)
	assert.Equal(t, int64(len(csv)), atts[0].Size)
	assert.True(t, strings.HasPrefix(string(atts[0].Digest), "sha256:"))

	b, err := req.Blob(atts[0].Digest)
	require.NoError(t, err)
	assert.Equal(t, csv, b)
}

func TestNormalizeGeneratesID(t *testing.T) {
	req, err := newTestNormalizer().Normalize(context.Background(), Submission{Question: "q"})
	require.NoError(t, err)
	assert.Len(t, req.ID(), 36)
}

func TestNormalizeRejects(t *testing.T) {
	big := make([]byte, 1025)
	half := make([]byte, 1000)
	tests := []struct {
		name string
		sub  Submission
	}{
		{"empty question", Submission{Question: " \n\t "}},
		{"only control chars", Submission{Question: "\x00\x01\x02"}},
		{"file too large", Submission{Question: "q", Files: []File{{Name: "a.csv", Content: big}}}},
		{"total too large", Submission{Question: "q", Files: []File{
			{Name: "a.csv", Content: half}, {Name: "b.csv", Content: half}, {Name: "c.csv", Content: half},
		}}},
		{"disallowed type", Submission{Question: "q", Files: []File{{Name: "run.sh", MediaType: "application/x-sh", Content: []byte("#!/bin/sh")}}}},
		{"sniffed binary", Submission{Question: "q", Files: []File{{Name: "blob", Content: []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestNormalizer().Normalize(context.Background(), tt.sub)
			assert.ErrorIs(t, err, analysis.ErrInvalidInput)
		})
	}
}

func TestNormalizeNames(t *testing.T) {
	req, err := newTestNormalizer().Normalize(context.Background(), Submission{
		Question: "q",
		Files: []File{
			{Name: "../../etc/data.csv", Content: []byte("x")},
			{Name: "data.csv", Content: []byte("y")},
			{Name: "data.csv", Content: []byte("z")},
			{Name: "my report (1).txt", Content: []byte("r")},
			{Field: "", Name: "", Content: []byte("plain text")},
		},
	})
	require.NoError(t, err)

	var names []string
	for _, a := range req.Attachments() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"data.csv", "data_2.csv", "data_3.csv", "my_report__1_.txt", "file_4"}, names)
}

func TestResolveMediaType(t *testing.T) {
	tests := []struct {
		declared, name string
		content        []byte
		want           string
	}{
		{"text/csv; charset=utf-8", "x.bin", nil, "text/csv"},
		{"application/octet-stream", "x.xlsx", nil, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{"", "X.JSON", nil, "application/json"},
		{"", "image", []byte("\x89PNG\r\n\x1a\n"), "image/png"},
		{"", "notes", []byte("hello"), "text/plain"},
		{"not a type", "a.tsv", nil, "text/tab-separated-values"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveMediaType(tt.declared, tt.name, tt.content), tt.name)
	}
}

func TestAllowedWildcard(t *testing.T) {
	n := &Normalizer{AllowedTypes: []string{"image/*", "application/json"}}
	assert.True(t, n.allowed("image/png"))
	assert.True(t, n.allowed("application/json"))
	assert.False(t, n.allowed("text/csv"))
	assert.False(t, n.allowed("imagex/png"))
}
