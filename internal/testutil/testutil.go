// Package testutil builds small in-memory model artifacts shared by the
// kernel and processor test suites.
package testutil

import (
	"github.com/example/go-sentencepiece/internal/kernel"
	"github.com/example/go-sentencepiece/modelproto"
)

// PieceSpec describes one vocabulary entry of a test artifact.
type PieceSpec struct {
	Text  string
	Score float32
	Type  modelproto.PieceType
}

// Normal returns a NORMAL piece spec.
func Normal(text string, score float32) PieceSpec {
	return PieceSpec{Text: text, Score: score, Type: modelproto.TypeNormal}
}

// UserDefined returns a USER_DEFINED piece spec.
func UserDefined(text string) PieceSpec {
	return PieceSpec{Text: text, Type: modelproto.TypeUserDefined}
}

// NewModel assembles an artifact of the given model type. The reserved
// pieces <unk>, <s> and </s> occupy ids 0..2, followed by the given pieces.
func NewModel(modelType modelproto.ModelType, pieces ...PieceSpec) *modelproto.ModelProto {
	mp := modelproto.New()
	mp.TrainerSpec.ModelType = modelType
	mp.Pieces = []modelproto.SentencePiece{
		{Piece: "<unk>", Type: modelproto.TypeUnknown},
		{Piece: "<s>", Type: modelproto.TypeControl},
		{Piece: "</s>", Type: modelproto.TypeControl},
	}
	for _, piece := range pieces {
		mp.Pieces = append(mp.Pieces, modelproto.SentencePiece{
			Piece: piece.Text,
			Score: piece.Score,
			Type:  piece.Type,
		})
	}
	return mp
}

// WithByteFallback enables byte fallback on the artifact and appends the 256
// reserved byte pieces.
func WithByteFallback(mp *modelproto.ModelProto) *modelproto.ModelProto {
	mp.TrainerSpec.ByteFallback = true
	for b := 0; b < 256; b++ {
		mp.Pieces = append(mp.Pieces, modelproto.SentencePiece{
			Piece: kernel.ByteToPiece(byte(b)),
			Score: 0,
			Type:  modelproto.TypeByte,
		})
	}
	return mp
}
