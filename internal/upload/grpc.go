package upload

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rbright/reel/internal/capture"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// PushSegmentMethod is the unary ingest RPC: BytesValue in, Empty out.
const PushSegmentMethod = "/reel.ingest.v1.SegmentIngest/PushSegment"

// Metadata keys attached to every gRPC upload.
const (
	MetadataSession  = "x-reel-session"
	MetadataSequence = "x-reel-sequence"
	MetadataMimeType = "x-reel-mime-type"
)

// GRPCSink pushes segments over one shared client connection.
type GRPCSink struct {
	conn *grpc.ClientConn
}

func NewGRPCSink(endpoint string, opts ...grpc.DialOption) (*GRPCSink, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("grpc endpoint is empty")
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial ingest grpc %q: %w", endpoint, err)
	}
	return &GRPCSink{conn: conn}, nil
}

func (s *GRPCSink) Send(ctx context.Context, seg capture.Segment) error {
	ctx = metadata.AppendToOutgoingContext(ctx,
		MetadataSession, seg.SessionID,
		MetadataSequence, strconv.Itoa(seg.Sequence),
		MetadataMimeType, seg.MimeType,
	)
	if err := s.conn.Invoke(ctx, PushSegmentMethod, wrapperspb.Bytes(seg.Data), &emptypb.Empty{}); err != nil {
		return fmt.Errorf("push segment %d: %w", seg.Sequence, err)
	}
	return nil
}

// Probe waits until the channel is ready.
func (s *GRPCSink) Probe(ctx context.Context) error {
	s.conn.Connect()
	if err := waitForReady(ctx, s.conn); err != nil {
		return fmt.Errorf("wait for ingest grpc readiness: %w", err)
	}
	return nil
}

func (s *GRPCSink) Close() error {
	return s.conn.Close()
}
