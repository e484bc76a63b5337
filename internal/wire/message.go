package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	messageHeaderSize = 32
	segmentHeaderSize = 24
	partHeaderSize    = 16

	// maxVarPartLength bounds the accepted payload of a single message so a
	// corrupt length field cannot trigger an arbitrary allocation.
	maxVarPartLength = 1 << 30
)

// Part is one typed unit of a segment: a header describing kind, attributes
// and argument count, plus an opaque payload interpreted per kind.
type Part struct {
	Kind       PartKind
	Attributes uint8
	ArgCount   int
	Payload    []byte
}

// IsLastPacket reports whether this part closes its result stream.
func (p Part) IsLastPacket() bool {
	return p.Attributes&PaLastPacket != 0
}

// Segment carries one request or reply with its parts. Messages exchanged
// by this driver always hold exactly one segment.
type Segment struct {
	Kind SegmentKind

	// request fields
	MessageType    MessageType
	Commit         bool
	CommandOptions uint8

	// reply fields
	FunctionCode FunctionCode

	Parts []Part
}

// Part returns the first part of the given kind, or nil.
func (s *Segment) Part(kind PartKind) *Part {
	for i := range s.Parts {
		if s.Parts[i].Kind == kind {
			return &s.Parts[i]
		}
	}
	return nil
}

// Message is one full protocol packet: header plus a single segment.
type Message struct {
	SessionID int64
	PacketSeq int32
	Segment   Segment
}

// NewRequest builds a request message.
func NewRequest(sessionID int64, seq int32, mt MessageType, commit bool, parts ...Part) *Message {
	return &Message{
		SessionID: sessionID,
		PacketSeq: seq,
		Segment: Segment{
			Kind:        SkRequest,
			MessageType: mt,
			Commit:      commit,
			Parts:       parts,
		},
	}
}

// NewReply builds a reply message.
func NewReply(sessionID int64, seq int32, fc FunctionCode, parts ...Part) *Message {
	return &Message{
		SessionID: sessionID,
		PacketSeq: seq,
		Segment: Segment{
			Kind:         SkReply,
			FunctionCode: fc,
			Parts:        parts,
		},
	}
}

// NewErrorReply builds an error reply carrying a single error part.
func NewErrorReply(sessionID int64, seq int32, errPart Part) *Message {
	return &Message{
		SessionID: sessionID,
		PacketSeq: seq,
		Segment: Segment{
			Kind:  SkError,
			Parts: []Part{errPart},
		},
	}
}

// WriteMessage serializes m to w as a single write.
func WriteMessage(w io.Writer, m *Message) error {
	enc := NewEncoder()

	// segment payload: parts with headers, each padded to 8 bytes
	parts := NewEncoder()
	for _, p := range m.Segment.Parts {
		writePartHeader(parts, p)
		parts.WriteBytes(p.Payload)
		parts.Pad(8)
	}
	if err := parts.Err(); err != nil {
		return err
	}

	segmentLength := segmentHeaderSize + parts.Len()

	// message header
	enc.WriteInt64(m.SessionID)
	enc.WriteInt32(m.PacketSeq)
	enc.WriteUint32(uint32(segmentLength)) // varPartLength
	enc.WriteUint32(uint32(segmentLength)) // varPartSize
	enc.WriteInt16(1)                      // noOfSegments
	enc.WriteBytes(make([]byte, 10))       // reserved

	// segment header
	enc.WriteInt32(int32(segmentLength))
	enc.WriteInt32(0) // segmentOfs
	enc.WriteInt16(int16(len(m.Segment.Parts)))
	enc.WriteInt16(1) // segmentNo
	enc.WriteInt8(int8(m.Segment.Kind))
	switch m.Segment.Kind {
	case SkRequest:
		enc.WriteInt8(int8(m.Segment.MessageType))
		if m.Segment.Commit {
			enc.WriteInt8(1)
		} else {
			enc.WriteInt8(0)
		}
		enc.WriteUint8(m.Segment.CommandOptions)
		enc.WriteBytes(make([]byte, 8)) // reserved
	default:
		enc.WriteInt8(0)
		enc.WriteInt16(int16(m.Segment.FunctionCode))
		enc.WriteBytes(make([]byte, 8)) // reserved
	}

	enc.WriteBytes(parts.Bytes())

	if err := enc.Err(); err != nil {
		return err
	}

	_, err := w.Write(enc.Bytes())
	return err
}

// ReadMessage reads and parses one full message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	var hdr [messageHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	m := &Message{
		SessionID: int64(binary.LittleEndian.Uint64(hdr[0:8])),
		PacketSeq: int32(binary.LittleEndian.Uint32(hdr[8:12])),
	}
	varPartLength := binary.LittleEndian.Uint32(hdr[12:16])
	noOfSegments := int16(binary.LittleEndian.Uint16(hdr[20:22]))

	if varPartLength > maxVarPartLength {
		return nil, errors.Errorf("wire: message length %d exceeds limit", varPartLength)
	}
	if noOfSegments != 1 {
		return nil, errors.Errorf("wire: expected 1 segment, got %d", noOfSegments)
	}

	body := make([]byte, varPartLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	if err := parseSegment(body, &m.Segment); err != nil {
		return nil, err
	}
	return m, nil
}

func parseSegment(body []byte, seg *Segment) error {
	dec := NewDecoder(body)

	dec.ReadInt32() // segmentLength
	dec.ReadInt32() // segmentOfs
	noOfParts := int(dec.ReadInt16())
	dec.ReadInt16() // segmentNo
	seg.Kind = SegmentKind(dec.ReadInt8())
	switch seg.Kind {
	case SkRequest:
		seg.MessageType = MessageType(dec.ReadInt8())
		seg.Commit = dec.ReadInt8() != 0
		seg.CommandOptions = dec.ReadUint8()
		dec.Skip(8)
	case SkReply, SkError:
		dec.ReadInt8()
		seg.FunctionCode = FunctionCode(dec.ReadInt16())
		dec.Skip(8)
	default:
		return errors.Errorf("wire: invalid segment kind %d", int8(seg.Kind))
	}

	seg.Parts = make([]Part, 0, noOfParts)
	for i := 0; i < noOfParts; i++ {
		p, err := readPart(dec)
		if err != nil {
			return err
		}
		seg.Parts = append(seg.Parts, p)
	}
	return dec.Err()
}

func writePartHeader(enc *Encoder, p Part) {
	enc.WriteInt8(int8(p.Kind))
	enc.WriteUint8(p.Attributes)
	enc.WriteInt16(int16(p.ArgCount))
	enc.WriteInt32(0) // bigArgumentCount
	enc.WriteInt32(int32(len(p.Payload)))
	enc.WriteInt32(int32(len(p.Payload)))
}

func readPart(dec *Decoder) (Part, error) {
	p := Part{
		Kind:       PartKind(dec.ReadInt8()),
		Attributes: dec.ReadUint8(),
	}
	p.ArgCount = int(dec.ReadInt16())
	bigArgCount := dec.ReadInt32()
	bufferLength := int(dec.ReadInt32())
	dec.ReadInt32() // bufferSize

	if bigArgCount != 0 {
		p.ArgCount = int(bigArgCount)
	}
	if bufferLength < 0 || bufferLength > dec.Remaining() {
		return p, errors.Errorf("wire: part length %d out of range", bufferLength)
	}

	p.Payload = dec.ReadBytes(bufferLength)

	// skip padding to the 8 byte part boundary
	if pad := (8 - bufferLength%8) % 8; pad <= dec.Remaining() {
		dec.Skip(pad)
	}

	return p, dec.Err()
}
