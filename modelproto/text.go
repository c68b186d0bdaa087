package modelproto

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the upstream sentencepiece.proto messages.
const (
	fieldTextText   = 1
	fieldTextPieces = 2
	fieldTextScore  = 3

	fieldTextPiecePiece   = 1
	fieldTextPieceID      = 2
	fieldTextPieceSurface = 3
	fieldTextPieceBegin   = 4
	fieldTextPieceEnd     = 5

	fieldNBestNBests = 1
)

// TextPiece is one tokenized piece with its aligned surface span. Begin and
// End form a half-open byte range into the enclosing text.
type TextPiece struct {
	Piece   string
	ID      int32
	Surface string
	Begin   uint32
	End     uint32
}

// SentencePieceText is the structured result of an encode or decode call:
// the full text plus the pieces aligned to it.
type SentencePieceText struct {
	Text   string
	Pieces []TextPiece
	Score  float32
}

// NBestSentencePieceText is an ordered list of alternative tokenizations.
type NBestSentencePieceText struct {
	NBests []SentencePieceText
}

// Marshal serializes the envelope to protobuf wire bytes.
func (t *SentencePieceText) Marshal() []byte {
	var b []byte
	b = appendString(b, fieldTextText, t.Text)
	for _, piece := range t.Pieces {
		b = appendMessage(b, fieldTextPieces, marshalTextPiece(piece))
	}
	if t.Score != 0 {
		b = appendFloat32(b, fieldTextScore, t.Score)
	}
	return b
}

func appendFloat32(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func marshalTextPiece(piece TextPiece) []byte {
	var b []byte
	b = appendString(b, fieldTextPiecePiece, piece.Piece)
	b = appendVarint(b, fieldTextPieceID, uint64(uint32(piece.ID)))
	b = appendString(b, fieldTextPieceSurface, piece.Surface)
	b = appendVarint(b, fieldTextPieceBegin, uint64(piece.Begin))
	b = appendVarint(b, fieldTextPieceEnd, uint64(piece.End))
	return b
}

// Marshal serializes the n-best envelope to protobuf wire bytes.
func (t *NBestSentencePieceText) Marshal() []byte {
	var b []byte
	for i := range t.NBests {
		b = appendMessage(b, fieldNBestNBests, t.NBests[i].Marshal())
	}
	return b
}

// UnmarshalText parses a serialized SentencePieceText envelope.
func UnmarshalText(data []byte) (*SentencePieceText, error) {
	t := &SentencePieceText{}
	err := walkScalars(data, scalarVisitor{
		bytes: func(num protowire.Number, v []byte) {
			switch num {
			case fieldTextText:
				t.Text = string(v)
			case fieldTextPieces:
				piece, err := unmarshalTextPiece(v)
				if err == nil {
					t.Pieces = append(t.Pieces, piece)
				}
			}
		},
		fixed32: func(num protowire.Number, v uint32) {
			if num == fieldTextScore {
				t.Score = math.Float32frombits(v)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func unmarshalTextPiece(data []byte) (TextPiece, error) {
	piece := TextPiece{}
	err := walkScalars(data, scalarVisitor{
		varint: func(num protowire.Number, v uint64) {
			switch num {
			case fieldTextPieceID:
				piece.ID = int32(uint32(v))
			case fieldTextPieceBegin:
				piece.Begin = uint32(v)
			case fieldTextPieceEnd:
				piece.End = uint32(v)
			}
		},
		bytes: func(num protowire.Number, v []byte) {
			switch num {
			case fieldTextPiecePiece:
				piece.Piece = string(v)
			case fieldTextPieceSurface:
				piece.Surface = string(v)
			}
		},
	})
	return piece, err
}
