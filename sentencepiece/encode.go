package sentencepiece

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/example/go-sentencepiece/internal/kernel"
	"github.com/example/go-sentencepiece/modelproto"
)

// maxNBestSize bounds the n-best request of SampleEncode.
const maxNBestSize = 512

// Encode tokenizes input into piece strings with repeated runs folded into
// the compact run-length form.
func (p *Processor) Encode(input string) ([]string, error) {
	spt, err := p.EncodeText(input)
	if err != nil {
		return nil, err
	}
	return foldRepeats(pieceStrings(spt)), nil
}

// EncodeIDs tokenizes input into ids, run-length folded like Encode.
func (p *Processor) EncodeIDs(input string) ([]int, error) {
	spt, err := p.EncodeText(input)
	if err != nil {
		return nil, err
	}
	folded := foldRepeats(pieceStrings(spt))
	ids := make([]int, len(folded))
	for i, piece := range folded {
		ids[i] = p.model.PieceToID(piece)
	}
	return ids, nil
}

// EncodeText tokenizes input into the structured envelope: every piece with
// its id and its surface span into the original input.
func (p *Processor) EncodeText(input string) (*modelproto.SentencePieceText, error) {
	if err := p.status(); err != nil {
		return nil, err
	}

	normalized, normToOrig, err := p.norm.Normalize(input)
	if err != nil {
		return nil, err
	}
	result, err := p.model.Encode(normalized)
	if err != nil {
		return nil, err
	}

	spt := &modelproto.SentencePieceText{}
	if err := p.populateText(input, normalized, normToOrig, result, spt); err != nil {
		return nil, err
	}
	return spt, nil
}

// NBestEncode returns up to nbest alternative piece tokenizations, best
// first.
func (p *Processor) NBestEncode(input string, nbest int) ([][]string, error) {
	nspt, err := p.NBestEncodeText(input, nbest)
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(nspt.NBests))
	for i := range nspt.NBests {
		out = append(out, pieceStrings(&nspt.NBests[i]))
	}
	return out, nil
}

// NBestEncodeIDs returns up to nbest alternative id tokenizations, best
// first.
func (p *Processor) NBestEncodeIDs(input string, nbest int) ([][]int, error) {
	nspt, err := p.NBestEncodeText(input, nbest)
	if err != nil {
		return nil, err
	}
	out := make([][]int, 0, len(nspt.NBests))
	for i := range nspt.NBests {
		ids := make([]int, len(nspt.NBests[i].Pieces))
		for j, piece := range nspt.NBests[i].Pieces {
			ids[j] = int(piece.ID)
		}
		out = append(out, ids)
	}
	return out, nil
}

// NBestEncodeText returns the structured n-best envelope with model scores.
func (p *Processor) NBestEncodeText(input string, nbest int) (*modelproto.NBestSentencePieceText, error) {
	if err := p.status(); err != nil {
		return nil, err
	}
	if !p.model.NBestAvailable() {
		return nil, fmt.Errorf("%w: nbest encoding is not available for the current model", ErrInternal)
	}

	normalized, normToOrig, err := p.norm.Normalize(input)
	if err != nil {
		return nil, err
	}
	nbests, err := p.model.NBestEncode(normalized, nbest)
	if err != nil {
		return nil, err
	}
	if len(nbests) == 0 {
		return nil, fmt.Errorf("%w: nbest encoding returned an empty result", ErrInternal)
	}

	out := &modelproto.NBestSentencePieceText{}
	for _, scored := range nbests {
		spt := modelproto.SentencePieceText{Score: scored.Score}
		if err := p.populateText(input, normalized, normToOrig, scored.Pieces, &spt); err != nil {
			return nil, err
		}
		out.NBests = append(out.NBests, spt)
	}
	return out, nil
}

// SampleEncode draws one tokenization: from the model's sampler when n-best
// is unavailable or nbest is negative, greedily when nbest is 0 or 1, and
// otherwise from the top-nbest alternatives with probability proportional to
// exp(alpha*score).
func (p *Processor) SampleEncode(input string, nbest int, alpha float32) ([]string, error) {
	spt, err := p.SampleEncodeText(input, nbest, alpha)
	if err != nil {
		return nil, err
	}
	return pieceStrings(spt), nil
}

// SampleEncodeIDs is SampleEncode returning ids.
func (p *Processor) SampleEncodeIDs(input string, nbest int, alpha float32) ([]int, error) {
	spt, err := p.SampleEncodeText(input, nbest, alpha)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(spt.Pieces))
	for i, piece := range spt.Pieces {
		ids[i] = int(piece.ID)
	}
	return ids, nil
}

// SampleEncodeText is SampleEncode returning the structured envelope.
func (p *Processor) SampleEncodeText(input string, nbest int, alpha float32) (*modelproto.SentencePieceText, error) {
	if err := p.status(); err != nil {
		return nil, err
	}
	if nbest > maxNBestSize {
		return nil, fmt.Errorf("%w: nbest_size must be <= %d", ErrInvalidArgument, maxNBestSize)
	}

	normalized, normToOrig, err := p.norm.Normalize(input)
	if err != nil {
		return nil, err
	}

	rng := p.rng
	if rng == nil {
		rng = processRand
	}

	var result kernel.Result
	switch {
	case !p.model.NBestAvailable() || nbest < 0:
		if !p.model.SampleAvailable() {
			return nil, fmt.Errorf("%w: sample encoding is not available for the current model", ErrInternal)
		}
		result, err = p.model.SampleEncode(normalized, alpha, rng)
	case nbest == 0 || nbest == 1:
		result, err = p.model.Encode(normalized)
	default:
		var nbests []kernel.ScoredResult
		nbests, err = p.model.NBestEncode(normalized, nbest)
		if err == nil && len(nbests) == 0 {
			err = fmt.Errorf("%w: nbest encoding returned an empty result", ErrInternal)
		}
		if err == nil {
			result = nbests[drawIndex(rng, nbests, alpha)].Pieces
		}
	}
	if err != nil {
		return nil, err
	}

	spt := &modelproto.SentencePieceText{}
	if err := p.populateText(input, normalized, normToOrig, result, spt); err != nil {
		return nil, err
	}
	return spt, nil
}

// drawIndex picks an alternative with probability proportional to
// exp(alpha*score).
func drawIndex(rng *rand.Rand, nbests []kernel.ScoredResult, alpha float32) int {
	probs := make([]float64, len(nbests))
	total := 0.0
	for i, scored := range nbests {
		probs[i] = math.Exp(float64(alpha) * float64(scored.Score))
		total += probs[i]
	}
	r := rng.Float64() * total
	acc := 0.0
	for i, prob := range probs {
		acc += prob
		if r < acc {
			return i
		}
	}
	return len(nbests) - 1
}

// populateText rebuilds the piece structure over the original input: each
// non-control piece is assigned the original-byte span aligned to its
// normalized span, unknown runs are merged, and unknown pieces decompose into
// byte pieces when the model enables byte fallback.
func (p *Processor) populateText(input, normalized string, normToOrig []int, result kernel.Result, spt *modelproto.SentencePieceText) error {
	consumed := 0
	prevUnk := false
	for _, ep := range result {
		w, id := ep.Piece, ep.ID
		if w == "" {
			return fmt.Errorf("%w: empty piece is not allowed", ErrInternal)
		}
		isUnk := p.model.IsUnknown(id)

		if p.model.IsControl(id) {
			// Control symbols have no source surface.
			spt.Pieces = append(spt.Pieces, modelproto.TextPiece{
				Piece: w,
				ID:    int32(id),
				Begin: uint32(normToOrig[consumed]),
				End:   uint32(normToOrig[consumed]),
			})
			prevUnk = isUnk
			continue
		}

		end := consumed + len(w)
		if end > len(normalized) {
			return fmt.Errorf("%w: piece %q exceeds the normalized input", ErrInternal, w)
		}
		origBegin := normToOrig[consumed]
		origEnd := normToOrig[end]
		if origBegin > origEnd || origEnd > len(input) {
			return fmt.Errorf("%w: inconsistent offset map for piece %q", ErrInternal, w)
		}
		surface := input[origBegin:origEnd]

		switch {
		case isUnk && p.model.ByteFallbackEnabled():
			// Decompose the unknown piece into its UTF-8 bytes; only the
			// last byte piece carries the surface.
			for i := 0; i < len(w); i++ {
				piece := kernel.ByteToPiece(w[i])
				tp := modelproto.TextPiece{
					Piece: piece,
					ID:    int32(p.model.PieceToID(piece)),
					Begin: uint32(origBegin),
					End:   uint32(origBegin),
				}
				if i == len(w)-1 {
					tp.Surface = surface
					tp.End = uint32(origEnd)
				}
				spt.Pieces = append(spt.Pieces, tp)
			}
		case prevUnk && isUnk:
			// Merge runs of unknowns so the decoder can regenerate them in
			// one step.
			last := &spt.Pieces[len(spt.Pieces)-1]
			last.Piece += w
			last.Surface += surface
			last.End = uint32(origEnd)
		default:
			spt.Pieces = append(spt.Pieces, modelproto.TextPiece{
				Piece:   w,
				ID:      int32(id),
				Surface: surface,
				Begin:   uint32(origBegin),
				End:     uint32(origEnd),
			})
		}
		consumed += len(w)
		prevUnk = isUnk
	}

	if consumed != len(normalized) {
		return fmt.Errorf("%w: all normalized characters are not consumed", ErrInternal)
	}

	p.applyExtraOptions(p.encodeExtraOptions, spt)
	spt.Text = input
	return nil
}

func pieceStrings(spt *modelproto.SentencePieceText) []string {
	pieces := make([]string, len(spt.Pieces))
	for i, piece := range spt.Pieces {
		pieces[i] = piece.Piece
	}
	return pieces
}
