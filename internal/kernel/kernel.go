// Package kernel implements the subword model kernels behind the processor:
// unigram, BPE, word and char variants over a shared capability interface.
package kernel

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/example/go-sentencepiece/internal/normalizer"
	"github.com/example/go-sentencepiece/modelproto"
)

// EncodedPiece is one (piece, id) pair produced by a kernel. The
// concatenation of Piece over a full result equals the normalized input.
type EncodedPiece struct {
	Piece string
	ID    int
}

// Result is a single tokenization.
type Result []EncodedPiece

// ScoredResult is a tokenization with its model score, used by N-best.
type ScoredResult struct {
	Pieces Result
	Score  float32
}

// Encoder versions accepted by SetEncoderVersion.
const (
	EncoderVersionOriginal  = 0
	EncoderVersionOptimized = 1
)

// Model is the capability set the processor invokes. Apart from
// SetEncoderVersion, which mutates the kernel, implementations are immutable
// after construction and safe for concurrent use.
type Model interface {
	Encode(normalized string) (Result, error)
	NBestEncode(normalized string, nbest int) ([]ScoredResult, error)
	SampleEncode(normalized string, alpha float32, rng *rand.Rand) (Result, error)
	NBestAvailable() bool
	SampleAvailable() bool

	PieceToID(piece string) int
	IDToPiece(id int) string
	GetScore(id int) float32
	GetPieceSize() int

	IsControl(id int) bool
	IsUnknown(id int) bool
	IsUnused(id int) bool
	IsUserDefined(id int) bool
	IsByte(id int) bool
	ByteFallbackEnabled() bool

	UnkPiece() string
	BOSPiece() string
	EOSPiece() string
	PadPiece() string

	SetEncoderVersion(version int) error
	EncoderVersion() int

	// VerifyOutputsEquivalent reports whether two space-joined piece
	// sequences are interchangeable under this model.
	VerifyOutputsEquivalent(expected, actual string) bool

	PrefixMatcher() *normalizer.PrefixMatcher
	Status() error
}

// New dispatches on the artifact's model type and builds the matching kernel.
func New(mp *modelproto.ModelProto) (Model, error) {
	switch mp.TrainerSpec.ModelType {
	case modelproto.ModelUnigram:
		return newUnigram(mp)
	case modelproto.ModelBPE:
		return newBPE(mp)
	case modelproto.ModelWord:
		return newWord(mp)
	case modelproto.ModelChar:
		return newChar(mp)
	}
	return nil, fmt.Errorf("kernel: unsupported model type %d", mp.TrainerSpec.ModelType)
}

// base carries the vocabulary bookkeeping shared by every kernel.
type base struct {
	proto     *modelproto.ModelProto
	pieceToID map[string]int
	unkID     int
	matcher   *normalizer.PrefixMatcher
	version   int
}

func newBase(mp *modelproto.ModelProto) base {
	b := base{
		proto:     mp,
		pieceToID: make(map[string]int, len(mp.Pieces)),
		unkID:     -1,
	}
	var userDefined []string
	for i, piece := range mp.Pieces {
		if _, dup := b.pieceToID[piece.Piece]; !dup {
			b.pieceToID[piece.Piece] = i
		}
		switch piece.Type {
		case modelproto.TypeUnknown:
			if b.unkID < 0 {
				b.unkID = i
			}
		case modelproto.TypeUserDefined:
			userDefined = append(userDefined, piece.Piece)
		}
	}
	b.matcher = normalizer.NewPrefixMatcher(userDefined)
	return b
}

func (b *base) PieceToID(piece string) int {
	if id, ok := b.pieceToID[piece]; ok {
		return id
	}
	return b.unkID
}

func (b *base) IDToPiece(id int) string {
	if id < 0 || id >= len(b.proto.Pieces) {
		return ""
	}
	return b.proto.Pieces[id].Piece
}

func (b *base) GetScore(id int) float32 {
	if id < 0 || id >= len(b.proto.Pieces) {
		return 0
	}
	return b.proto.Pieces[id].Score
}

func (b *base) GetPieceSize() int { return len(b.proto.Pieces) }

func (b *base) pieceType(id int) modelproto.PieceType {
	if id < 0 || id >= len(b.proto.Pieces) {
		return 0
	}
	return b.proto.Pieces[id].Type
}

func (b *base) IsControl(id int) bool     { return b.pieceType(id) == modelproto.TypeControl }
func (b *base) IsUnknown(id int) bool     { return b.pieceType(id) == modelproto.TypeUnknown }
func (b *base) IsUnused(id int) bool      { return b.pieceType(id) == modelproto.TypeUnused }
func (b *base) IsUserDefined(id int) bool { return b.pieceType(id) == modelproto.TypeUserDefined }
func (b *base) IsByte(id int) bool        { return b.pieceType(id) == modelproto.TypeByte }

func (b *base) ByteFallbackEnabled() bool { return b.proto.TrainerSpec.ByteFallback }

func (b *base) UnkPiece() string { return b.proto.TrainerSpec.UnkPiece }
func (b *base) BOSPiece() string { return b.proto.TrainerSpec.BOSPiece }
func (b *base) EOSPiece() string { return b.proto.TrainerSpec.EOSPiece }
func (b *base) PadPiece() string { return b.proto.TrainerSpec.PadPiece }

func (b *base) SetEncoderVersion(version int) error {
	if version != EncoderVersionOriginal && version != EncoderVersionOptimized {
		return fmt.Errorf("kernel: unsupported encoder version %d", version)
	}
	b.version = version
	return nil
}

func (b *base) EncoderVersion() int { return b.version }

func (b *base) VerifyOutputsEquivalent(expected, actual string) bool {
	return expected == actual
}

func (b *base) PrefixMatcher() *normalizer.PrefixMatcher { return b.matcher }

func (b *base) Status() error {
	if len(b.proto.Pieces) == 0 {
		return errors.New("kernel: empty vocabulary")
	}
	return nil
}

// usable reports whether id may appear on an encode path: UNUSED pieces are
// excluded by the vocabulary constraint.
func (b *base) usable(id int) bool {
	t := b.pieceType(id)
	return t == modelproto.TypeNormal || t == modelproto.TypeUserDefined
}

var errNBestUnavailable = errors.New("kernel: nbest encoding is not available for this model")
var errSampleUnavailable = errors.New("kernel: sample encoding is not available for this model")
