package kernel

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/example/go-sentencepiece/modelproto"
)

const (
	minScore float32 = -math.MaxFloat32

	// Score penalty applied below the lowest vocabulary score when an
	// out-of-vocabulary character falls back to the unknown piece.
	unkPenalty float32 = 10
)

// unigramModel scores tokenizations as sums of log-probabilities and picks
// the Viterbi-best segmentation over a piece trie.
type unigramModel struct {
	base
	trie     *pieceTrie
	unkScore float32
}

func newUnigram(mp *modelproto.ModelProto) (*unigramModel, error) {
	m := &unigramModel{base: newBase(mp)}
	if m.unkID < 0 {
		return nil, errors.New("kernel: unigram model requires an unknown piece")
	}

	lowest := float32(0)
	m.trie = newPieceTrie()
	for id, piece := range mp.Pieces {
		if !m.usable(id) {
			continue
		}
		m.trie.insert(piece.Piece, id, piece.Score)
		if piece.Score < lowest {
			lowest = piece.Score
		}
	}
	m.unkScore = lowest - unkPenalty
	return m, nil
}

func (m *unigramModel) NBestAvailable() bool  { return true }
func (m *unigramModel) SampleAvailable() bool { return true }

// edge is one lattice arc: a piece covering bytes [from, from+length).
type edge struct {
	from   int
	length int
	id     int
	score  float32
}

// edgesAt returns the arcs leaving byte position pos. When no piece covers
// exactly the single character at pos, an unknown-piece arc is added so every
// position stays reachable.
func (m *unigramModel) edgesAt(normalized string, pos int) []edge {
	matches := m.trie.commonPrefix(normalized[pos:])
	_, size := utf8.DecodeRuneInString(normalized[pos:])

	edges := make([]edge, 0, len(matches)+1)
	coversChar := false
	for _, match := range matches {
		if match.length == size {
			coversChar = true
		}
		edges = append(edges, edge{from: pos, length: match.length, id: match.id, score: match.score})
	}
	if !coversChar {
		edges = append(edges, edge{from: pos, length: size, id: m.unkID, score: m.unkScore})
	}
	return edges
}

func (m *unigramModel) Encode(normalized string) (Result, error) {
	if err := m.Status(); err != nil {
		return nil, err
	}
	if normalized == "" {
		return nil, nil
	}

	n := len(normalized)
	scores := make([]float32, n+1)
	backEdge := make([]edge, n+1)
	for i := range scores {
		scores[i] = minScore
		backEdge[i].from = -1
	}
	scores[0] = 0

	for pos := 0; pos < n; pos++ {
		if scores[pos] == minScore {
			continue
		}
		for _, e := range m.edgesAt(normalized, pos) {
			next := pos + e.length
			cand := scores[pos] + e.score
			if cand > scores[next] {
				scores[next] = cand
				backEdge[next] = e
			}
		}
	}

	if backEdge[n].from < 0 && n > 0 {
		return nil, errors.New("kernel: unable to tokenize input")
	}

	var result Result
	for pos := n; pos > 0; {
		e := backEdge[pos]
		result = append(result, EncodedPiece{Piece: normalized[e.from:pos], ID: e.id})
		pos = e.from
	}
	reverse(result)
	return result, nil
}

// nbestHyp is one partial hypothesis ending at a lattice node.
type nbestHyp struct {
	score   float32
	prevPos int
	prevIdx int
	id      int
	length  int
}

func (m *unigramModel) NBestEncode(normalized string, nbest int) ([]ScoredResult, error) {
	if err := m.Status(); err != nil {
		return nil, err
	}
	if nbest <= 1 {
		result, err := m.Encode(normalized)
		if err != nil {
			return nil, err
		}
		return []ScoredResult{{Pieces: result, Score: m.resultScore(result)}}, nil
	}
	if normalized == "" {
		return []ScoredResult{{}}, nil
	}

	n := len(normalized)
	hyps := make([][]nbestHyp, n+1)
	hyps[0] = []nbestHyp{{prevPos: -1}}

	for pos := 0; pos < n; pos++ {
		if len(hyps[pos]) == 0 {
			continue
		}
		// All arcs into pos are in by now; prune before any outgoing arc
		// records an index into this slice.
		if len(hyps[pos]) > nbest {
			sortHyps(hyps[pos])
			hyps[pos] = hyps[pos][:nbest]
		}
		for _, e := range m.edgesAt(normalized, pos) {
			next := pos + e.length
			for idx, h := range hyps[pos] {
				hyps[next] = append(hyps[next], nbestHyp{
					score:   h.score + e.score,
					prevPos: pos,
					prevIdx: idx,
					id:      e.id,
					length:  e.length,
				})
			}
		}
	}

	final := hyps[n]
	if len(final) == 0 {
		return nil, errors.New("kernel: unable to tokenize input")
	}
	sortHyps(final)
	if len(final) > nbest {
		final = final[:nbest]
	}

	results := make([]ScoredResult, 0, len(final))
	for _, h := range final {
		var pieces Result
		pos, cur := n, h
		for cur.prevPos >= 0 {
			pieces = append(pieces, EncodedPiece{Piece: normalized[cur.prevPos:pos], ID: cur.id})
			pos = cur.prevPos
			cur = hyps[cur.prevPos][cur.prevIdx]
		}
		reverse(pieces)
		results = append(results, ScoredResult{Pieces: pieces, Score: h.score})
	}
	return results, nil
}

// SampleEncode draws one segmentation with probability proportional to
// exp(alpha * score) via forward filtering and backward sampling over the
// lattice.
func (m *unigramModel) SampleEncode(normalized string, alpha float32, rng *rand.Rand) (Result, error) {
	if err := m.Status(); err != nil {
		return nil, err
	}
	if normalized == "" {
		return nil, nil
	}

	n := len(normalized)
	inEdges := make([][]edge, n+1)
	forward := make([]float64, n+1)
	reachable := make([]bool, n+1)
	reachable[0] = true

	for pos := 0; pos < n; pos++ {
		if !reachable[pos] {
			continue
		}
		for _, e := range m.edgesAt(normalized, pos) {
			next := pos + e.length
			inEdges[next] = append(inEdges[next], e)
			reachable[next] = true
		}
	}
	if !reachable[n] {
		return nil, errors.New("kernel: unable to tokenize input")
	}

	for pos := 1; pos <= n; pos++ {
		if !reachable[pos] {
			continue
		}
		terms := make([]float64, 0, len(inEdges[pos]))
		for _, e := range inEdges[pos] {
			if !reachable[e.from] {
				continue
			}
			terms = append(terms, forward[e.from]+float64(alpha)*float64(e.score))
		}
		forward[pos] = logSumExp(terms)
	}

	var result Result
	for pos := n; pos > 0; {
		r := rng.Float64()
		acc := 0.0
		var chosen edge
		found := false
		for _, e := range inEdges[pos] {
			if !reachable[e.from] {
				continue
			}
			acc += math.Exp(forward[e.from] + float64(alpha)*float64(e.score) - forward[pos])
			if r < acc {
				chosen = e
				found = true
				break
			}
		}
		if !found {
			// Numerical slack: fall back to the last viable edge.
			for i := len(inEdges[pos]) - 1; i >= 0; i-- {
				if reachable[inEdges[pos][i].from] {
					chosen = inEdges[pos][i]
					found = true
					break
				}
			}
			if !found {
				return nil, errors.New("kernel: sampling reached a dead lattice node")
			}
		}
		result = append(result, EncodedPiece{Piece: normalized[chosen.from:pos], ID: chosen.id})
		pos = chosen.from
	}
	reverse(result)
	return result, nil
}

// VerifyOutputsEquivalent accepts sequences that differ in segmentation but
// carry the same total score, since multiple Viterbi paths can tie.
func (m *unigramModel) VerifyOutputsEquivalent(expected, actual string) bool {
	if expected == actual {
		return true
	}
	scoreOf := func(joined string) float64 {
		total := 0.0
		for _, piece := range strings.Split(joined, " ") {
			total += float64(m.GetScore(m.PieceToID(piece)))
		}
		return total
	}
	return math.Abs(scoreOf(expected)-scoreOf(actual)) < 1e-4
}

func (m *unigramModel) resultScore(result Result) float32 {
	var total float32
	for _, piece := range result {
		if piece.ID == m.unkID {
			total += m.unkScore
			continue
		}
		total += m.GetScore(piece.ID)
	}
	return total
}

func sortHyps(hyps []nbestHyp) {
	sort.SliceStable(hyps, func(i, j int) bool { return hyps[i].score > hyps[j].score })
}

func logSumExp(terms []float64) float64 {
	if len(terms) == 0 {
		return math.Inf(-1)
	}
	max := terms[0]
	for _, t := range terms[1:] {
		if t > max {
			max = t
		}
	}
	sum := 0.0
	for _, t := range terms {
		sum += math.Exp(t - max)
	}
	return max + math.Log(sum)
}

func reverse(result Result) {
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
}

// pieceTrie is a byte-level trie over the usable vocabulary.
type pieceTrie struct {
	root *trieNode
}

type trieNode struct {
	children map[byte]*trieNode
	id       int
	score    float32
	end      bool
}

func newPieceTrie() *pieceTrie {
	return &pieceTrie{root: &trieNode{children: make(map[byte]*trieNode)}}
}

func (t *pieceTrie) insert(piece string, id int, score float32) {
	node := t.root
	for i := 0; i < len(piece); i++ {
		child, ok := node.children[piece[i]]
		if !ok {
			child = &trieNode{children: make(map[byte]*trieNode)}
			node.children[piece[i]] = child
		}
		node = child
	}
	node.end = true
	node.id = id
	node.score = score
}

type trieMatch struct {
	id     int
	length int
	score  float32
}

// commonPrefix returns every vocabulary piece that prefixes s.
func (t *pieceTrie) commonPrefix(s string) []trieMatch {
	var matches []trieMatch
	node := t.root
	for i := 0; i < len(s); i++ {
		child, ok := node.children[s[i]]
		if !ok {
			break
		}
		if child.end {
			matches = append(matches, trieMatch{id: child.id, length: i + 1, score: child.score})
		}
		node = child
	}
	return matches
}
