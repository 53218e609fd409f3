package backup

import (
	"context"
	"encoding/base64"
	"errors"

	rcdhttp "github.com/infra-structure/RAMCloud/internal/http"
	"github.com/infra-structure/RAMCloud/pkg/transport"
	"github.com/infra-structure/RAMCloud/pkg/types"
)

// Client is the HTTP-backed Session a Manager uses in production,
// speaking to internal/backupservice's chi routes.
type Client struct {
	session *transport.Session
}

// NewClient satisfies backup.SessionFactory.
func NewClient(serviceLocator string) Session {
	return &Client{session: transport.New(serviceLocator, nil)}
}

func (c *Client) ServiceLocator() string {
	return c.session.ServiceLocator
}

type segmentRequest struct {
	MasterID  uint64 `json:"master_id"`
	SegmentID uint64 `json:"segment_id"`
}

type writeRequest struct {
	MasterID  uint64 `json:"master_id"`
	SegmentID uint64 `json:"segment_id"`
	Offset    uint32 `json:"offset"`
	Data      string `json:"data"` // base64, JSON has no byte-string type
}

func (c *Client) Open(ctx context.Context, masterID types.LogID, segmentID types.SegmentID) error {
	return c.session.Do(ctx, "/segments/open", segmentRequest{uint64(masterID), uint64(segmentID)}, nil)
}

func (c *Client) Write(ctx context.Context, masterID types.LogID, segmentID types.SegmentID, offset uint32, data []byte) error {
	req := writeRequest{
		MasterID:  uint64(masterID),
		SegmentID: uint64(segmentID),
		Offset:    offset,
		Data:      base64.StdEncoding.EncodeToString(data),
	}
	return c.session.Do(ctx, "/segments/write", req, nil)
}

func (c *Client) Close(ctx context.Context, masterID types.LogID, segmentID types.SegmentID) error {
	return c.session.Do(ctx, "/segments/close", segmentRequest{uint64(masterID), uint64(segmentID)}, nil)
}

func (c *Client) Free(ctx context.Context, masterID types.LogID, segmentID types.SegmentID) error {
	return c.session.Do(ctx, "/segments/free", segmentRequest{uint64(masterID), uint64(segmentID)}, nil)
}

func (c *Client) GetRecoveryData(ctx context.Context, masterID types.LogID, segmentID types.SegmentID) ([]byte, error) {
	var resp rcdhttp.Response
	if err := c.session.Do(ctx, "/segments/recovery-data", segmentRequest{uint64(masterID), uint64(segmentID)}, &resp); err != nil {
		return nil, err
	}
	if resp.Status == rcdhttp.StatusError {
		return nil, errors.New(resp.Error)
	}
	return base64.StdEncoding.DecodeString(resp.Value)
}
