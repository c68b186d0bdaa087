package modelproto

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when artifact bytes cannot be parsed.
var ErrMalformed = errors.New("modelproto: malformed message")

// Field numbers of the upstream sentencepiece_model.proto messages.
const (
	fieldModelPieces           = 1
	fieldModelTrainerSpec      = 2
	fieldModelNormalizerSpec   = 3
	fieldModelSelfTestData     = 4
	fieldModelDenormalizerSpec = 5

	fieldPiecePiece = 1
	fieldPieceScore = 2
	fieldPieceType  = 3

	fieldTrainerModelType        = 3
	fieldTrainerWhitespaceSuffix = 24
	fieldTrainerByteFallback     = 35
	fieldTrainerUnkID            = 40
	fieldTrainerBOSID            = 41
	fieldTrainerEOSID            = 42
	fieldTrainerPadID            = 43
	fieldTrainerUnkSurface       = 44
	fieldTrainerUnkPiece         = 45
	fieldTrainerBOSPiece         = 46
	fieldTrainerEOSPiece         = 47
	fieldTrainerPadPiece         = 48

	fieldNormName              = 1
	fieldNormCharsmap          = 2
	fieldNormAddDummyPrefix    = 3
	fieldNormRemoveExtraWS     = 4
	fieldNormEscapeWhitespaces = 5

	fieldSelfTestSamples = 1
	fieldSampleInput     = 1
	fieldSampleExpected  = 2
)

// Unmarshal parses a serialized model artifact.
func Unmarshal(data []byte) (*ModelProto, error) {
	mp := &ModelProto{
		TrainerSpec:    defaultTrainerSpec(),
		NormalizerSpec: defaultNormalizerSpec(),
	}
	err := walkFields(data, func(num protowire.Number, payload []byte) error {
		switch num {
		case fieldModelPieces:
			piece, err := unmarshalPiece(payload)
			if err != nil {
				return err
			}
			mp.Pieces = append(mp.Pieces, piece)
		case fieldModelTrainerSpec:
			return unmarshalTrainerSpec(payload, &mp.TrainerSpec)
		case fieldModelNormalizerSpec:
			return unmarshalNormalizerSpec(payload, &mp.NormalizerSpec)
		case fieldModelSelfTestData:
			return unmarshalSelfTestData(payload, &mp.SelfTestData)
		case fieldModelDenormalizerSpec:
			spec := NormalizerSpec{}
			if err := unmarshalNormalizerSpec(payload, &spec); err != nil {
				return err
			}
			mp.DenormalizerSpec = &spec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mp, nil
}

// walkFields iterates over the top-level fields of a message, handing
// length-delimited payloads to fn and skipping scalars it does not recognize.
// Scalar fields are consumed by the caller through walkScalars instead.
func walkFields(data []byte, fn func(num protowire.Number, payload []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: bad tag", ErrMalformed)
		}
		data = data[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrMalformed, num)
			}
			data = data[n:]
			continue
		}
		payload, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return fmt.Errorf("%w: field %d", ErrMalformed, num)
		}
		if err := fn(num, payload); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

type scalarVisitor struct {
	varint  func(num protowire.Number, v uint64)
	fixed32 func(num protowire.Number, v uint32)
	bytes   func(num protowire.Number, v []byte)
}

// walkScalars iterates a message visiting every field through the visitor.
func walkScalars(data []byte, vis scalarVisitor) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: bad tag", ErrMalformed)
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrMalformed, num)
			}
			if vis.varint != nil {
				vis.varint(num, v)
			}
			data = data[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrMalformed, num)
			}
			if vis.fixed32 != nil {
				vis.fixed32(num, v)
			}
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrMalformed, num)
			}
			if vis.bytes != nil {
				vis.bytes(num, v)
			}
			data = data[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrMalformed, num)
			}
			data = data[n:]
		}
	}
	return nil
}

func unmarshalPiece(data []byte) (SentencePiece, error) {
	piece := SentencePiece{Type: TypeNormal}
	err := walkScalars(data, scalarVisitor{
		varint: func(num protowire.Number, v uint64) {
			if num == fieldPieceType {
				piece.Type = PieceType(v)
			}
		},
		fixed32: func(num protowire.Number, v uint32) {
			if num == fieldPieceScore {
				piece.Score = math.Float32frombits(v)
			}
		},
		bytes: func(num protowire.Number, v []byte) {
			if num == fieldPiecePiece {
				piece.Piece = string(v)
			}
		},
	})
	return piece, err
}

func unmarshalTrainerSpec(data []byte, spec *TrainerSpec) error {
	return walkScalars(data, scalarVisitor{
		varint: func(num protowire.Number, v uint64) {
			switch num {
			case fieldTrainerModelType:
				spec.ModelType = ModelType(v)
			case fieldTrainerWhitespaceSuffix:
				spec.TreatWhitespaceAsSuffix = v != 0
			case fieldTrainerByteFallback:
				spec.ByteFallback = v != 0
			case fieldTrainerUnkID:
				spec.UnkID = int32(int64(v))
			case fieldTrainerBOSID:
				spec.BOSID = int32(int64(v))
			case fieldTrainerEOSID:
				spec.EOSID = int32(int64(v))
			case fieldTrainerPadID:
				spec.PadID = int32(int64(v))
			}
		},
		bytes: func(num protowire.Number, v []byte) {
			switch num {
			case fieldTrainerUnkSurface:
				spec.UnkSurface = string(v)
				spec.HasUnkSurface = true
			case fieldTrainerUnkPiece:
				spec.UnkPiece = string(v)
			case fieldTrainerBOSPiece:
				spec.BOSPiece = string(v)
			case fieldTrainerEOSPiece:
				spec.EOSPiece = string(v)
			case fieldTrainerPadPiece:
				spec.PadPiece = string(v)
			}
		},
	})
}

func unmarshalNormalizerSpec(data []byte, spec *NormalizerSpec) error {
	return walkScalars(data, scalarVisitor{
		varint: func(num protowire.Number, v uint64) {
			switch num {
			case fieldNormAddDummyPrefix:
				spec.AddDummyPrefix = v != 0
			case fieldNormRemoveExtraWS:
				spec.RemoveExtraWhitespaces = v != 0
			case fieldNormEscapeWhitespaces:
				spec.EscapeWhitespaces = v != 0
			}
		},
		bytes: func(num protowire.Number, v []byte) {
			switch num {
			case fieldNormName:
				spec.Name = string(v)
			case fieldNormCharsmap:
				spec.PrecompiledCharsmap = append([]byte(nil), v...)
			}
		},
	})
}

func unmarshalSelfTestData(data []byte, std *SelfTestData) error {
	return walkFields(data, func(num protowire.Number, payload []byte) error {
		if num != fieldSelfTestSamples {
			return nil
		}
		sample := SelfTestSample{}
		err := walkScalars(payload, scalarVisitor{
			bytes: func(num protowire.Number, v []byte) {
				switch num {
				case fieldSampleInput:
					sample.Input = string(v)
				case fieldSampleExpected:
					sample.Expected = string(v)
				}
			},
		})
		if err != nil {
			return err
		}
		std.Samples = append(std.Samples, sample)
		return nil
	})
}

// Marshal serializes the artifact back to its wire form.
func (mp *ModelProto) Marshal() []byte {
	var b []byte
	for _, piece := range mp.Pieces {
		b = appendMessage(b, fieldModelPieces, marshalPiece(piece))
	}
	b = appendMessage(b, fieldModelTrainerSpec, marshalTrainerSpec(mp.TrainerSpec))
	b = appendMessage(b, fieldModelNormalizerSpec, marshalNormalizerSpec(mp.NormalizerSpec))
	if len(mp.SelfTestData.Samples) > 0 {
		b = appendMessage(b, fieldModelSelfTestData, marshalSelfTestData(mp.SelfTestData))
	}
	if mp.DenormalizerSpec != nil {
		b = appendMessage(b, fieldModelDenormalizerSpec, marshalNormalizerSpec(*mp.DenormalizerSpec))
	}
	return b
}

func marshalPiece(piece SentencePiece) []byte {
	var b []byte
	b = appendString(b, fieldPiecePiece, piece.Piece)
	b = protowire.AppendTag(b, fieldPieceScore, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(piece.Score))
	b = appendVarint(b, fieldPieceType, uint64(piece.Type))
	return b
}

func marshalTrainerSpec(spec TrainerSpec) []byte {
	var b []byte
	b = appendVarint(b, fieldTrainerModelType, uint64(spec.ModelType))
	b = appendBool(b, fieldTrainerWhitespaceSuffix, spec.TreatWhitespaceAsSuffix)
	b = appendBool(b, fieldTrainerByteFallback, spec.ByteFallback)
	b = appendVarint(b, fieldTrainerUnkID, uint64(int64(spec.UnkID)))
	b = appendVarint(b, fieldTrainerBOSID, uint64(int64(spec.BOSID)))
	b = appendVarint(b, fieldTrainerEOSID, uint64(int64(spec.EOSID)))
	b = appendVarint(b, fieldTrainerPadID, uint64(int64(spec.PadID)))
	if spec.HasUnkSurface {
		b = appendString(b, fieldTrainerUnkSurface, spec.UnkSurface)
	}
	b = appendString(b, fieldTrainerUnkPiece, spec.UnkPiece)
	b = appendString(b, fieldTrainerBOSPiece, spec.BOSPiece)
	b = appendString(b, fieldTrainerEOSPiece, spec.EOSPiece)
	b = appendString(b, fieldTrainerPadPiece, spec.PadPiece)
	return b
}

func marshalNormalizerSpec(spec NormalizerSpec) []byte {
	var b []byte
	if spec.Name != "" {
		b = appendString(b, fieldNormName, spec.Name)
	}
	if len(spec.PrecompiledCharsmap) > 0 {
		b = protowire.AppendTag(b, fieldNormCharsmap, protowire.BytesType)
		b = protowire.AppendBytes(b, spec.PrecompiledCharsmap)
	}
	b = appendBool(b, fieldNormAddDummyPrefix, spec.AddDummyPrefix)
	b = appendBool(b, fieldNormRemoveExtraWS, spec.RemoveExtraWhitespaces)
	b = appendBool(b, fieldNormEscapeWhitespaces, spec.EscapeWhitespaces)
	return b
}

func marshalSelfTestData(std SelfTestData) []byte {
	var b []byte
	for _, sample := range std.Samples {
		var sb []byte
		sb = appendString(sb, fieldSampleInput, sample.Input)
		sb = appendString(sb, fieldSampleExpected, sample.Expected)
		b = appendMessage(b, fieldSelfTestSamples, sb)
	}
	return b
}

func appendMessage(b []byte, num protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	var u uint64
	if v {
		u = 1
	}
	return appendVarint(b, num, u)
}
