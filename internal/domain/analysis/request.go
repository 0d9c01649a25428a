package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Digest is a content address of the form "sha256:<hex>".
type Digest string

// DigestOf computes the content address of b.
func DigestOf(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest("sha256:" + hex.EncodeToString(sum[:]))
}

// Hex returns the hex part of the digest.
func (d Digest) Hex() string {
	s := string(d)
	if len(s) > len("sha256:") {
		return s[len("sha256:"):]
	}
	return s
}

// Attachment is a handle to one uploaded file. The program sees it as a
// read-only file called Name inside the data directory.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Digest    Digest `json:"digest"`
	Size      int64  `json:"size"`
}

// Request is a normalized analysis request. It is immutable once built:
// fields are unexported and accessors return copies.
type Request struct {
	id          string
	question    string
	attachments []Attachment
	blobs       map[Digest][]byte
	received    time.Time
}

// NewRequest builds a Request. Every attachment digest must have a blob.
func NewRequest(id, question string, attachments []Attachment, blobs map[Digest][]byte, received time.Time) (*Request, error) {
	own := make(map[Digest][]byte, len(blobs))
	for _, a := range attachments {
		b, ok := blobs[a.Digest]
		if !ok {
			return nil, fmt.Errorf("%w: no content for attachment %q", ErrInvalidInput, a.Name)
		}
		own[a.Digest] = b
	}
	atts := make([]Attachment, len(attachments))
	copy(atts, attachments)
	return &Request{
		id:          id,
		question:    question,
		attachments: atts,
		blobs:       own,
		received:    received,
	}, nil
}

func (r *Request) ID() string { return r.id }

func (r *Request) Question() string { return r.question }

func (r *Request) ReceivedAt() time.Time { return r.received }

// Attachments returns the ordered attachment handles.
func (r *Request) Attachments() []Attachment {
	out := make([]Attachment, len(r.attachments))
	copy(out, r.attachments)
	return out
}

// Blob implements BlobSource.
func (r *Request) Blob(d Digest) ([]byte, error) {
	b, ok := r.blobs[d]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", d)
	}
	return b, nil
}
