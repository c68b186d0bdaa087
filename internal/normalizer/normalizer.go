// Package normalizer implements the normalization kernel of the processor:
// character mapping, whitespace folding, dummy-prefix injection and the
// byte-offset alignment map between normalized output and original input.
//
// The same kernel, constructed from a DenormalizerSpec, runs the inverse
// character mapping on the decode path.
package normalizer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/example/go-sentencepiece/modelproto"
	"golang.org/x/text/unicode/norm"
)

// MetaSpace is U+2581 (LOWER ONE EIGHTH BLOCK), the whitespace marker used
// inside normalized pieces.
const MetaSpace = "▁"

// ErrBadCharsmap is returned when the precompiled character map cannot be
// parsed.
var ErrBadCharsmap = errors.New("normalizer: malformed character map")

// Normalizer rewrites input text per a NormalizerSpec and reports, for every
// normalized byte, the original byte offset it is aligned to.
type Normalizer struct {
	name                    string
	rules                   map[string]string
	maxRuleLen              int
	useNFKC                 bool
	foldWhitespace          bool
	removeExtraWhitespaces  bool
	addDummyPrefix          bool
	escapeWhitespaces       bool
	treatWhitespaceAsSuffix bool
	matcher                 *PrefixMatcher
	err                     error
}

// New builds the encode-path normalizer from the artifact's NormalizerSpec
// and TrainerSpec.
func New(spec modelproto.NormalizerSpec, trainer modelproto.TrainerSpec) *Normalizer {
	n := &Normalizer{
		name:                    spec.Name,
		useNFKC:                 strings.Contains(spec.Name, "nfkc"),
		foldWhitespace:          true,
		removeExtraWhitespaces:  spec.RemoveExtraWhitespaces,
		addDummyPrefix:          spec.AddDummyPrefix,
		escapeWhitespaces:       spec.EscapeWhitespaces,
		treatWhitespaceAsSuffix: trainer.TreatWhitespaceAsSuffix,
	}
	n.rules, n.maxRuleLen, n.err = parseCharsmap(spec.PrecompiledCharsmap)
	return n
}

// NewDenormalizer builds a rules-only kernel from a DenormalizerSpec. It
// applies the character map and nothing else, so whitespace and control
// characters survive untouched.
func NewDenormalizer(spec modelproto.NormalizerSpec) *Normalizer {
	n := &Normalizer{name: spec.Name}
	n.rules, n.maxRuleLen, n.err = parseCharsmap(spec.PrecompiledCharsmap)
	return n
}

// SetPrefixMatcher wires the model's user-defined-symbol matcher into the
// normalizer so those symbols bypass normalization.
func (n *Normalizer) SetPrefixMatcher(m *PrefixMatcher) {
	n.matcher = m
}

// Status reports whether the normalizer was constructed successfully.
func (n *Normalizer) Status() error {
	if n == nil {
		return errors.New("normalizer: not initialized")
	}
	return n.err
}

// chunk is a run of normalized output bytes aligned to one original offset.
type chunk struct {
	text  string
	orig  int
	space bool
}

// Normalize rewrites input and returns the normalized form together with
// normToOrig, where normToOrig[i] is the original byte offset aligned with
// normalized byte i. len(normToOrig) == len(normalized)+1 and the final entry
// is len(input).
func (n *Normalizer) Normalize(input string) (string, []int, error) {
	if err := n.Status(); err != nil {
		return "", nil, err
	}
	if input == "" {
		return "", []int{0}, nil
	}

	chunks := make([]chunk, 0, len(input))
	pos := 0
	for pos < len(input) {
		if n.matcher != nil {
			if l, ok := n.matcher.PrefixMatch(input[pos:]); ok {
				chunks = append(chunks, chunk{text: input[pos : pos+l], orig: pos})
				pos += l
				continue
			}
		}
		if to, l, ok := n.matchRule(input[pos:]); ok {
			if to != "" {
				chunks = append(chunks, chunk{text: to, orig: pos, space: n.foldWhitespace && to == " "})
			}
			pos += l
			continue
		}

		r, size := utf8.DecodeRuneInString(input[pos:])
		switch {
		case n.foldWhitespace && (r == 0 || isControlRune(r)):
			// dropped
		case n.foldWhitespace && unicode.IsSpace(r):
			chunks = append(chunks, chunk{text: " ", orig: pos, space: true})
		default:
			text := input[pos : pos+size]
			if n.useNFKC {
				text = norm.NFKC.String(text)
			}
			if text != "" {
				chunks = append(chunks, chunk{text: text, orig: pos})
			}
		}
		pos += size
	}

	if n.removeExtraWhitespaces {
		chunks = collapseWhitespace(chunks)
	}
	if n.addDummyPrefix && len(chunks) > 0 {
		if n.treatWhitespaceAsSuffix {
			chunks = append(chunks, chunk{text: " ", orig: len(input), space: true})
		} else {
			chunks = append([]chunk{{text: " ", orig: 0, space: true}}, chunks...)
		}
	}

	var sb strings.Builder
	normToOrig := make([]int, 0, len(input)+1)
	for _, c := range chunks {
		text := c.text
		if n.escapeWhitespaces && c.space {
			text = MetaSpace
		}
		sb.WriteString(text)
		for i := 0; i < len(text); i++ {
			normToOrig = append(normToOrig, c.orig)
		}
	}
	normToOrig = append(normToOrig, len(input))

	return sb.String(), normToOrig, nil
}

// matchRule finds the longest character-map rule prefixing s.
func (n *Normalizer) matchRule(s string) (string, int, bool) {
	if len(n.rules) == 0 {
		return "", 0, false
	}
	max := n.maxRuleLen
	if max > len(s) {
		max = len(s)
	}
	for l := max; l > 0; l-- {
		if to, ok := n.rules[s[:l]]; ok {
			return to, l, true
		}
	}
	return "", 0, false
}

// collapseWhitespace trims leading and trailing whitespace chunks and folds
// internal runs down to their first chunk.
func collapseWhitespace(chunks []chunk) []chunk {
	out := chunks[:0]
	prevSpace := true // swallow leading whitespace
	for _, c := range chunks {
		if c.space && prevSpace {
			continue
		}
		prevSpace = c.space
		out = append(out, c)
	}
	for len(out) > 0 && out[len(out)-1].space {
		out = out[:len(out)-1]
	}
	return out
}

// parseCharsmap decodes the artifact's character map: a sequence of records,
// each a uvarint-length-prefixed source byte string followed by a
// uvarint-length-prefixed replacement byte string.
func parseCharsmap(data []byte) (map[string]string, int, error) {
	if len(data) == 0 {
		return nil, 0, nil
	}
	rules := make(map[string]string)
	maxLen := 0
	for len(data) > 0 {
		from, rest, err := readCharsmapString(data)
		if err != nil {
			return nil, 0, err
		}
		to, rest, err := readCharsmapString(rest)
		if err != nil {
			return nil, 0, err
		}
		if from == "" {
			return nil, 0, fmt.Errorf("%w: empty source", ErrBadCharsmap)
		}
		rules[from] = to
		if len(from) > maxLen {
			maxLen = len(from)
		}
		data = rest
	}
	return rules, maxLen, nil
}

func readCharsmapString(data []byte) (string, []byte, error) {
	l, n := binary.Uvarint(data)
	if n <= 0 || uint64(len(data)-n) < l {
		return "", nil, ErrBadCharsmap
	}
	return string(data[n : n+int(l)]), data[n+int(l):], nil
}

// AppendCharsmapRule serializes one (from, to) rule in the character-map
// format consumed by parseCharsmap. Exposed for artifact writers and tests.
func AppendCharsmapRule(b []byte, from, to string) []byte {
	b = binary.AppendUvarint(b, uint64(len(from)))
	b = append(b, from...)
	b = binary.AppendUvarint(b, uint64(len(to)))
	b = append(b, to...)
	return b
}
