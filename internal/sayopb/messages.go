// Package sayopb holds the wire messages and gRPC descriptors of the sayo
// transcription service:
//
//	service SayoService {
//	  rpc StreamingASR(stream AudioChunk) returns (stream ASRResult);
//	  rpc Ping(PingRequest) returns (PingResponse);
//	}
package sayopb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(b []byte) error
}

type AudioChunk struct {
	Pcm []byte
}

type ASRResult struct {
	Text string
}

type PingRequest struct{}

type PingResponse struct {
	Message string
}

const (
	audioChunkPcmField   protowire.Number = 1
	asrResultTextField   protowire.Number = 1
	pingResponseMsgField protowire.Number = 1
)

func (m *AudioChunk) Marshal() ([]byte, error) {
	return appendBytesField(nil, audioChunkPcmField, m.Pcm), nil
}

func (m *AudioChunk) Unmarshal(b []byte) error {
	m.Pcm = nil
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) {
		if num == audioChunkPcmField && typ == protowire.BytesType {
			m.Pcm = append([]byte(nil), v...)
		}
	})
}

func (m *ASRResult) Marshal() ([]byte, error) {
	return appendBytesField(nil, asrResultTextField, []byte(m.Text)), nil
}

func (m *ASRResult) Unmarshal(b []byte) error {
	m.Text = ""
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) {
		if num == asrResultTextField && typ == protowire.BytesType {
			m.Text = string(v)
		}
	})
}

func (m *PingRequest) Marshal() ([]byte, error) { return nil, nil }

func (m *PingRequest) Unmarshal(b []byte) error {
	return walkFields(b, func(protowire.Number, protowire.Type, []byte) {})
}

func (m *PingResponse) Marshal() ([]byte, error) {
	return appendBytesField(nil, pingResponseMsgField, []byte(m.Message)), nil
}

func (m *PingResponse) Unmarshal(b []byte) error {
	m.Message = ""
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) {
		if num == pingResponseMsgField && typ == protowire.BytesType {
			m.Message = string(v)
		}
	})
}

// appendBytesField follows proto3 semantics: an empty value is not encoded.
func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// Only length-delimited fields reach fn.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("consume field %d: %w", num, protowire.ParseError(m))
			}
			fn(num, typ, v)
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return fmt.Errorf("skip field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
