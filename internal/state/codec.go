package state

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/ShayCichocki/baton/pkg/models"
)

// codec turns sessions into zstd-compressed JSON blobs and back.
// EncodeAll and DecodeAll are safe for concurrent use.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) encode(s *models.WorkflowSession) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.SessionID, err)
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *codec) decode(blob []byte) (*models.WorkflowSession, error) {
	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress session: %w", err)
	}
	var s models.WorkflowSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.SessionID == "" {
		return nil, fmt.Errorf("decode session: missing session_id")
	}
	if !s.State.Valid() {
		return nil, fmt.Errorf("decode session %s: invalid state %q", s.SessionID, s.State)
	}
	if s.Checkpoints == nil {
		s.Checkpoints = make(map[string]bool)
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	return &s, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}
