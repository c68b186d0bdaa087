package sentencepiece

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/example/go-sentencepiece/internal/kernel"
	"github.com/example/go-sentencepiece/internal/normalizer"
	"github.com/example/go-sentencepiece/modelproto"
)

// Decode reconstructs text from piece strings, expanding run-length folded
// repeats first.
func (p *Processor) Decode(pieces []string) (string, error) {
	expanded, err := unfoldRepeats(pieces)
	if err != nil {
		return "", err
	}
	spt, err := p.DecodeText(expanded)
	if err != nil {
		return "", err
	}
	return spt.Text, nil
}

// DecodeIDs reconstructs text from ids, expanding run-length folded repeats
// first.
func (p *Processor) DecodeIDs(ids []int) (string, error) {
	if err := p.status(); err != nil {
		return "", err
	}
	expanded, err := p.unfoldRepeatIDs(ids)
	if err != nil {
		return "", err
	}
	spt, err := p.DecodeIDsText(expanded)
	if err != nil {
		return "", err
	}
	return spt.Text, nil
}

// DecodeIDsText maps every id to its canonical piece and decodes the result.
func (p *Processor) DecodeIDsText(ids []int) (*modelproto.SentencePieceText, error) {
	if err := p.status(); err != nil {
		return nil, err
	}
	pieces := make([]string, len(ids))
	for i, id := range ids {
		pieces[i] = p.model.IDToPiece(id)
	}
	return p.DecodeText(pieces)
}

// DecodeText reconstructs the structured envelope from piece strings: every
// piece is assigned its surface and its span into the growing output text,
// byte-piece runs are reassembled as UTF-8, and the denormalizer (when the
// artifact carries one) rewrites the final text with the spans remapped.
func (p *Processor) DecodeText(pieces []string) (*modelproto.SentencePieceText, error) {
	if err := p.status(); err != nil {
		return nil, err
	}

	spt := &modelproto.SentencePieceText{}
	for _, w := range pieces {
		spt.Pieces = append(spt.Pieces, modelproto.TextPiece{
			Piece: w,
			ID:    int32(p.model.PieceToID(w)),
		})
	}

	p.applyExtraOptions(p.decodeExtraOptions, spt)

	var text []byte
	setSurface := func(i int, surface string) {
		sp := &spt.Pieces[i]
		sp.Surface = surface
		sp.Begin = uint32(len(text))
		text = append(text, surface...)
		sp.End = uint32(len(text))
	}

	byteStart := 0
	for i := range spt.Pieces {
		sp := spt.Pieces[i]
		if p.model.IsByte(int(sp.ID)) {
			continue
		}
		if err := p.reassembleBytePieces(spt, byteStart, i, setSurface); err != nil {
			return nil, err
		}
		byteStart = i + 1
		isEOSWhitespace := i == len(spt.Pieces)-1
		setSurface(i, p.decodePieceSurface(sp.Piece, int(sp.ID), len(text) == 0, isEOSWhitespace))
	}
	if err := p.reassembleBytePieces(spt, byteStart, len(spt.Pieces), setSurface); err != nil {
		return nil, err
	}

	spt.Text = string(text)

	if p.denorm != nil {
		if err := p.denormalizeText(spt); err != nil {
			return nil, err
		}
	}
	return spt, nil
}

// decodePieceSurface derives the visible surface of one non-byte piece.
func (p *Processor) decodePieceSurface(piece string, id int, isBOSWhitespace, isEOSWhitespace bool) string {
	if p.model.IsControl(id) {
		// Invisible symbols such as <s> and </s>.
		return ""
	}
	if p.model.IsUnknown(id) {
		if p.model.IDToPiece(id) == piece {
			return p.unkSurface()
		}
		return piece
	}

	spec := p.proto.NormalizerSpec
	stripDummy := spec.AddDummyPrefix || spec.RemoveExtraWhitespaces
	if !p.proto.TrainerSpec.TreatWhitespaceAsSuffix {
		if isBOSWhitespace && stripDummy {
			piece = strings.TrimPrefix(piece, normalizer.MetaSpace)
		}
	} else if isEOSWhitespace && stripDummy {
		piece = strings.TrimSuffix(piece, normalizer.MetaSpace)
	}

	return strings.ReplaceAll(piece, normalizer.MetaSpace, " ")
}

// reassembleBytePieces decodes the run of byte pieces in [begin, end) as
// UTF-8 and distributes each codepoint's bytes over the run: intermediate
// positions get an empty surface, the last position of a codepoint gets its
// full UTF-8 form. Invalid units each become one U+FFFD.
func (p *Processor) reassembleBytePieces(spt *modelproto.SentencePieceText, begin, end int, setSurface func(int, string)) error {
	if begin >= end {
		return nil
	}
	raw := make([]byte, 0, end-begin)
	for i := begin; i < end; i++ {
		b := kernel.PieceToByte(spt.Pieces[i].Piece)
		if b < 0 {
			return fmt.Errorf("%w: invalid byte piece %q", ErrInternal, spt.Pieces[i].Piece)
		}
		raw = append(raw, byte(b))
	}

	i := begin
	for pos := 0; pos < len(raw); {
		r, size := utf8.DecodeRune(raw[pos:])
		if r == utf8.RuneError && size == 1 {
			setSurface(i, string(utf8.RuneError))
			i++
			pos++
			continue
		}
		for j := 0; j < size; j++ {
			if j == size-1 {
				setSurface(i, string(raw[pos:pos+size]))
			} else {
				setSurface(i, "")
			}
			i++
		}
		pos += size
	}
	if i != end {
		return fmt.Errorf("%w: byte pieces were not fully consumed", ErrInternal)
	}
	return nil
}

// denormalizeText rewrites the assembled text through the denormalizer and
// remaps every piece's surface and span onto the denormalized form. The
// orig-to-norm mapping keeps the first normalized index observed for each
// original offset so the remap is deterministic.
func (p *Processor) denormalizeText(spt *modelproto.SentencePieceText) error {
	normalized, normToOrig, err := p.denorm.Normalize(spt.Text)
	if err != nil {
		return err
	}

	origToNorm := make(map[int]int, len(normToOrig))
	for i, orig := range normToOrig {
		if _, seen := origToNorm[orig]; !seen {
			origToNorm[orig] = i
		}
	}

	textIdx := 0
	lastConsumed := -1
	outIdx := 0
	for i := range spt.Pieces {
		sp := &spt.Pieces[i]
		surface := sp.Surface

		var remapped []byte
		for j := textIdx; j < textIdx+len(surface); j++ {
			normIdx, ok := origToNorm[j+1]
			if !ok {
				continue
			}
			for k := lastConsumed + 1; k <= normIdx-1; k++ {
				remapped = append(remapped, normalized[k])
			}
			lastConsumed = normIdx - 1
		}
		textIdx += len(surface)

		sp.Surface = string(remapped)
		sp.Begin = uint32(outIdx)
		outIdx += len(remapped)
		sp.End = uint32(outIdx)
	}

	spt.Text = normalized
	return nil
}
