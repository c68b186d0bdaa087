// Package modelproto defines the serialized schema of a trained SentencePiece
// model artifact and of the tokenized-text envelopes the processor emits.
//
// The wire format is standard protobuf, field-compatible with the upstream
// sentencepiece_model.proto / sentencepiece.proto messages, encoded and
// decoded directly with google.golang.org/protobuf/encoding/protowire so the
// module carries no generated code.
package modelproto

// PieceType classifies a vocabulary piece.
type PieceType int32

const (
	TypeNormal      PieceType = 1
	TypeUnknown     PieceType = 2
	TypeControl     PieceType = 3
	TypeUserDefined PieceType = 4
	TypeUnused      PieceType = 5
	TypeByte        PieceType = 6
)

// ModelType selects the subword algorithm the artifact was trained with.
type ModelType int32

const (
	ModelUnigram ModelType = 1
	ModelBPE     ModelType = 2
	ModelWord    ModelType = 3
	ModelChar    ModelType = 4
)

func (m ModelType) String() string {
	switch m {
	case ModelUnigram:
		return "unigram"
	case ModelBPE:
		return "bpe"
	case ModelWord:
		return "word"
	case ModelChar:
		return "char"
	}
	return "unknown"
}

// SentencePiece is a single vocabulary entry.
type SentencePiece struct {
	Piece string
	Score float32
	Type  PieceType
}

// TrainerSpec carries the training-time settings the processor consumes at
// runtime. Only the runtime-relevant subset of the upstream message is
// modeled; unknown fields are skipped during parsing.
type TrainerSpec struct {
	ModelType               ModelType
	TreatWhitespaceAsSuffix bool
	ByteFallback            bool
	UnkID                   int32
	BOSID                   int32
	EOSID                   int32
	PadID                   int32
	UnkSurface              string
	HasUnkSurface           bool
	UnkPiece                string
	BOSPiece                string
	EOSPiece                string
	PadPiece                string
}

// NormalizerSpec configures the normalization (or denormalization) kernel.
type NormalizerSpec struct {
	Name                   string
	PrecompiledCharsmap    []byte
	AddDummyPrefix         bool
	RemoveExtraWhitespaces bool
	EscapeWhitespaces      bool
}

// SelfTestSample is one (input, expected) pair verified after load.
type SelfTestSample struct {
	Input    string
	Expected string
}

// SelfTestData holds the artifact's self-test samples.
type SelfTestData struct {
	Samples []SelfTestSample
}

// ModelProto is the parsed model artifact. It is owned exclusively by the
// processor after a successful load.
type ModelProto struct {
	Pieces           []SentencePiece
	TrainerSpec      TrainerSpec
	NormalizerSpec   NormalizerSpec
	SelfTestData     SelfTestData
	DenormalizerSpec *NormalizerSpec
}

// New returns an empty artifact with the specs preset to their wire-format
// defaults, ready to be filled by artifact builders.
func New() *ModelProto {
	return &ModelProto{
		TrainerSpec:    defaultTrainerSpec(),
		NormalizerSpec: defaultNormalizerSpec(),
	}
}

// defaultTrainerSpec mirrors the upstream proto2 field defaults.
func defaultTrainerSpec() TrainerSpec {
	return TrainerSpec{
		ModelType: ModelUnigram,
		UnkID:     0,
		BOSID:     1,
		EOSID:     2,
		PadID:     -1,
		UnkPiece:  "<unk>",
		BOSPiece:  "<s>",
		EOSPiece:  "</s>",
		PadPiece:  "<pad>",
	}
}

// defaultNormalizerSpec mirrors the upstream proto2 field defaults.
func defaultNormalizerSpec() NormalizerSpec {
	return NormalizerSpec{
		AddDummyPrefix:         true,
		RemoveExtraWhitespaces: true,
		EscapeWhitespaces:      true,
	}
}
