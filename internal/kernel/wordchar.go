package kernel

import (
	"math/rand"
	"strings"

	"github.com/example/go-sentencepiece/internal/normalizer"
	"github.com/example/go-sentencepiece/modelproto"
)

// wordModel splits the normalized input at whitespace-marker boundaries and
// looks each word up verbatim.
type wordModel struct {
	base
	suffix bool
}

func newWord(mp *modelproto.ModelProto) (*wordModel, error) {
	return &wordModel{
		base:   newBase(mp),
		suffix: mp.TrainerSpec.TreatWhitespaceAsSuffix,
	}, nil
}

func (m *wordModel) NBestAvailable() bool  { return false }
func (m *wordModel) SampleAvailable() bool { return false }

func (m *wordModel) NBestEncode(string, int) ([]ScoredResult, error) {
	return nil, errNBestUnavailable
}

func (m *wordModel) SampleEncode(string, float32, *rand.Rand) (Result, error) {
	return nil, errSampleUnavailable
}

func (m *wordModel) Encode(normalized string) (Result, error) {
	if err := m.Status(); err != nil {
		return nil, err
	}
	var result Result
	for _, word := range splitWords(normalized, m.suffix) {
		id, ok := m.pieceToID[word]
		if !ok || !m.usable(id) {
			id = m.unkID
		}
		result = append(result, EncodedPiece{Piece: word, ID: id})
	}
	return result, nil
}

// splitWords cuts before each whitespace marker (or after it, in suffix
// mode), so every marker stays attached to the word it delimits.
func splitWords(normalized string, suffix bool) []string {
	if normalized == "" {
		return nil
	}
	var words []string
	start := 0
	for pos := 0; pos < len(normalized); {
		next := strings.Index(normalized[pos+1:], normalizer.MetaSpace)
		if next < 0 {
			break
		}
		cut := pos + 1 + next
		if suffix {
			cut += len(normalizer.MetaSpace)
		}
		if cut > start {
			words = append(words, normalized[start:cut])
		}
		start = cut
		pos = cut
	}
	if start < len(normalized) {
		words = append(words, normalized[start:])
	}
	return words
}

// charModel emits one piece per character.
type charModel struct {
	base
}

func newChar(mp *modelproto.ModelProto) (*charModel, error) {
	return &charModel{base: newBase(mp)}, nil
}

func (m *charModel) NBestAvailable() bool  { return false }
func (m *charModel) SampleAvailable() bool { return false }

func (m *charModel) NBestEncode(string, int) ([]ScoredResult, error) {
	return nil, errNBestUnavailable
}

func (m *charModel) SampleEncode(string, float32, *rand.Rand) (Result, error) {
	return nil, errSampleUnavailable
}

func (m *charModel) Encode(normalized string) (Result, error) {
	if err := m.Status(); err != nil {
		return nil, err
	}
	var result Result
	for _, r := range normalized {
		ch := string(r)
		id, ok := m.pieceToID[ch]
		if !ok || !m.usable(id) {
			id = m.unkID
		}
		result = append(result, EncodedPiece{Piece: ch, ID: id})
	}
	return result, nil
}
