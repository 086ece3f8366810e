package upload

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rbright/reel/internal/capture"
)

// Header names attached to every HTTP upload.
const (
	HeaderSession  = "X-Reel-Session"
	HeaderSequence = "X-Reel-Sequence"
)

// HTTPSink posts each segment as multipart form field "chunk".
type HTTPSink struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPSink(endpoint string, timeout time.Duration) *HTTPSink {
	client := resty.New().SetHeader("User-Agent", "reel")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &HTTPSink{client: client, endpoint: endpoint}
}

func (s *HTTPSink) Send(ctx context.Context, seg capture.Segment) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader(HeaderSession, seg.SessionID).
		SetHeader(HeaderSequence, strconv.Itoa(seg.Sequence)).
		SetMultipartField("chunk", segmentFileName(seg.Sequence), seg.MimeType, bytes.NewReader(seg.Data)).
		Post(s.endpoint)
	if err != nil {
		return fmt.Errorf("post segment %d: %w", seg.Sequence, err)
	}
	if resp.IsError() {
		return fmt.Errorf("post segment %d: server returned %s", seg.Sequence, resp.Status())
	}
	return nil
}

// Probe reports whether the endpoint answers at all; any HTTP status counts.
func (s *HTTPSink) Probe(ctx context.Context) error {
	if _, err := s.client.R().SetContext(ctx).Head(s.endpoint); err != nil {
		return fmt.Errorf("reach %s: %w", s.endpoint, err)
	}
	return nil
}

func (s *HTTPSink) Close() error { return nil }

func segmentFileName(sequence int) string {
	return fmt.Sprintf("segment-%06d.webm", sequence)
}
