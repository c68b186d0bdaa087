package kernel

import (
	"math/rand"
	"unicode/utf8"

	"github.com/example/go-sentencepiece/modelproto"
)

// bpeModel merges adjacent symbols greedily, highest-scored merge first.
// Piece scores double as merge ranks: a higher score means the merged piece
// was learned earlier.
type bpeModel struct {
	base
}

func newBPE(mp *modelproto.ModelProto) (*bpeModel, error) {
	m := &bpeModel{base: newBase(mp)}
	return m, nil
}

func (m *bpeModel) NBestAvailable() bool  { return false }
func (m *bpeModel) SampleAvailable() bool { return false }

func (m *bpeModel) NBestEncode(string, int) ([]ScoredResult, error) {
	return nil, errNBestUnavailable
}

func (m *bpeModel) SampleEncode(string, float32, *rand.Rand) (Result, error) {
	return nil, errSampleUnavailable
}

func (m *bpeModel) Encode(normalized string) (Result, error) {
	if err := m.Status(); err != nil {
		return nil, err
	}
	var result Result
	for pos := 0; pos < len(normalized); {
		if l, ok := m.matcher.PrefixMatch(normalized[pos:]); ok {
			symbol := normalized[pos : pos+l]
			result = append(result, EncodedPiece{Piece: symbol, ID: m.PieceToID(symbol)})
			pos += l
			continue
		}
		end := pos
		for end < len(normalized) {
			if _, ok := m.matcher.PrefixMatch(normalized[end:]); ok {
				break
			}
			_, size := utf8.DecodeRuneInString(normalized[end:])
			end += size
		}
		result = append(result, m.encodeSegment(normalized[pos:end])...)
		pos = end
	}
	return result, nil
}

// encodeSegment runs the merge loop over one segment free of user-defined
// symbols.
func (m *bpeModel) encodeSegment(segment string) Result {
	symbols := make([]string, 0, len(segment))
	for _, r := range segment {
		symbols = append(symbols, string(r))
	}

	for len(symbols) > 1 {
		bestIdx := -1
		bestScore := minScore
		for i := 0; i+1 < len(symbols); i++ {
			merged := symbols[i] + symbols[i+1]
			id, ok := m.pieceToID[merged]
			if !ok || !m.usable(id) {
				continue
			}
			if score := m.GetScore(id); bestIdx < 0 || score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}
		if bestIdx < 0 {
			break
		}
		symbols[bestIdx] += symbols[bestIdx+1]
		symbols = append(symbols[:bestIdx+1], symbols[bestIdx+2:]...)
	}

	result := make(Result, 0, len(symbols))
	for _, symbol := range symbols {
		id, ok := m.pieceToID[symbol]
		if !ok || !m.usable(id) {
			id = m.unkID
		}
		result = append(result, EncodedPiece{Piece: symbol, ID: id})
	}
	return result
}
