// Package sentencepiece implements the processor façade of a subword
// tokenizer: given a trained model artifact it turns raw text into subword
// pieces and integer ids, and reconstructs text from such sequences, keeping
// every piece aligned to byte offsets of the original input.
//
// A Processor is logically immutable once Load succeeds and is safe for
// concurrent readers. The mutating operations (Load, SetVocabulary,
// ResetVocabulary, SetEncodeExtraOptions, SetDecodeExtraOptions,
// SetEncoderVersion) are not synchronized with readers; callers must quiesce
// readers before reconfiguring.
package sentencepiece

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/go-sentencepiece/internal/kernel"
	"github.com/example/go-sentencepiece/internal/normalizer"
	"github.com/example/go-sentencepiece/modelproto"
)

// Error kinds. Fallible operations wrap one of these; classify with
// errors.Is.
var (
	ErrNotFound        = errors.New("sentencepiece: not found")
	ErrInternal        = errors.New("sentencepiece: internal error")
	ErrInvalidArgument = errors.New("sentencepiece: invalid argument")
	ErrNotReady        = errors.New("sentencepiece: processor is not loaded")
)

// defaultUnkSurface is emitted when decoding a canonical unknown piece:
// U+2047 DOUBLE QUESTION MARK sandwiched by spaces.
const defaultUnkSurface = " ⁇ "

// processRand is the process-wide generator behind SampleEncode's discrete
// draw. Tests inject a deterministic generator with SetRandomSource.
var processRand = rand.New(rand.NewSource(time.Now().UnixNano()))

type extraOption int

const (
	reverseOption extraOption = iota
	bosOption
	eosOption
)

// Processor owns a loaded model artifact together with its model and
// normalizer kernels.
type Processor struct {
	proto  *modelproto.ModelProto
	model  kernel.Model
	norm   *normalizer.Normalizer
	denorm *normalizer.Normalizer

	encodeExtraOptions []extraOption
	decodeExtraOptions []extraOption

	rng *rand.Rand
}

// NewProcessor returns an empty processor; call one of the Load variants
// before encoding or decoding.
func NewProcessor() *Processor {
	return &Processor{rng: processRand}
}

// Load reads and parses a serialized model artifact from disk.
func (p *Processor) Load(filename string) error {
	if filename == "" {
		return fmt.Errorf("%w: model file path should not be empty", ErrNotFound)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: model file %q", ErrNotFound, filename)
		}
		return fmt.Errorf("read model %q: %w", filename, err)
	}
	return p.LoadFromSerializedProto(data)
}

// MustLoad is Load for program initialization paths; it panics on error.
func (p *Processor) MustLoad(filename string) {
	if err := p.Load(filename); err != nil {
		panic(err)
	}
}

// LoadFromSerializedProto parses a serialized model artifact from memory.
func (p *Processor) LoadFromSerializedProto(data []byte) error {
	mp, err := modelproto.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("parse model: %w", err)
	}
	return p.LoadFromModelProto(mp)
}

// LoadFromModelProto takes ownership of a parsed artifact, instantiates the
// model and normalizer kernels and runs the artifact's self-tests.
func (p *Processor) LoadFromModelProto(mp *modelproto.ModelProto) error {
	if mp == nil {
		return fmt.Errorf("%w: nil model proto", ErrInternal)
	}

	model, err := kernel.New(mp)
	if err != nil {
		return err
	}

	p.proto = mp
	p.model = model
	p.norm = normalizer.New(mp.NormalizerSpec, mp.TrainerSpec)
	p.denorm = nil
	if mp.DenormalizerSpec != nil && len(mp.DenormalizerSpec.PrecompiledCharsmap) > 0 {
		p.denorm = normalizer.NewDenormalizer(*mp.DenormalizerSpec)
	}

	// User-defined symbols bypass normalization.
	p.norm.SetPrefixMatcher(model.PrefixMatcher())

	if err := p.status(); err != nil {
		return err
	}
	return p.runSelfTests()
}

// runSelfTests encodes every self-test sample and asks the model whether the
// space-joined output is equivalent to the expected string.
func (p *Processor) runSelfTests() error {
	samples := p.proto.SelfTestData.Samples
	failures := 0
	for _, sample := range samples {
		pieces, err := p.Encode(sample.Input)
		if err != nil {
			return err
		}
		joined := strings.Join(pieces, " ")
		if !p.model.VerifyOutputsEquivalent(sample.Expected, joined) {
			failures++
			slog.Info("self-test mismatch",
				"input", sample.Input,
				"expected", sample.Expected,
				"actual", joined)
		}
	}
	if failures > 0 {
		slog.Info("self-test summary", "failed", failures, "total", len(samples))
		return fmt.Errorf("%w: %d/%d self-test samples failed", ErrInternal, failures, len(samples))
	}
	return nil
}

// setModel replaces the model kernel. Test seam.
func (p *Processor) setModel(m kernel.Model) {
	p.model = m
}

// setNormalizer replaces the normalizer kernel. Test seam.
func (p *Processor) setNormalizer(n *normalizer.Normalizer) {
	p.norm = n
}

// status reports readiness: both kernels present and internally valid.
func (p *Processor) status() error {
	if p == nil || p.model == nil || p.norm == nil {
		return ErrNotReady
	}
	if err := p.model.Status(); err != nil {
		return err
	}
	return p.norm.Status()
}

// ModelProto exposes the loaded artifact; nil before a successful load.
func (p *Processor) ModelProto() *modelproto.ModelProto {
	return p.proto
}

// SerializedModelProto returns the loaded artifact in its wire form, or nil
// when nothing is loaded.
func (p *Processor) SerializedModelProto() []byte {
	if p.proto == nil {
		return nil
	}
	return p.proto.Marshal()
}

// SaveModel writes the loaded artifact back to disk.
func (p *Processor) SaveModel(filename string) error {
	if filename == "" {
		return fmt.Errorf("%w: model file path should not be empty", ErrNotFound)
	}
	if p.proto == nil {
		return ErrNotReady
	}
	if err := os.WriteFile(filename, p.proto.Marshal(), 0o644); err != nil {
		return fmt.Errorf("write model %q: %w", filename, err)
	}
	return nil
}

// SetRandomSource injects the generator used by SampleEncode's discrete
// draw. Pass nil to restore the process-wide generator.
func (p *Processor) SetRandomSource(rng *rand.Rand) {
	if rng == nil {
		rng = processRand
	}
	p.rng = rng
}

// SetEncoderVersion selects the kernel's encoder implementation.
func (p *Processor) SetEncoderVersion(version int) error {
	if err := p.status(); err != nil {
		return err
	}
	return p.model.SetEncoderVersion(version)
}

// GetEncoderVersion reports the kernel's active encoder implementation.
func (p *Processor) GetEncoderVersion() int {
	if err := p.status(); err != nil {
		logDefault(err, 0)
		return 0
	}
	return p.model.EncoderVersion()
}

// SetEncodeExtraOptions installs the ordered option mix applied to every
// encode result, e.g. "bos:eos" or "reverse".
func (p *Processor) SetEncodeExtraOptions(spec string) error {
	opts, err := p.parseExtraOptions(spec)
	if err != nil {
		return err
	}
	p.encodeExtraOptions = opts
	return nil
}

// SetDecodeExtraOptions installs the ordered option mix applied to every
// decode call before surfaces are derived.
func (p *Processor) SetDecodeExtraOptions(spec string) error {
	opts, err := p.parseExtraOptions(spec)
	if err != nil {
		return err
	}
	p.decodeExtraOptions = opts
	return nil
}

func (p *Processor) parseExtraOptions(spec string) ([]extraOption, error) {
	if spec == "" {
		return nil, nil
	}
	if err := p.status(); err != nil {
		return nil, err
	}
	var opts []extraOption
	for _, name := range strings.Split(spec, ":") {
		switch name {
		case "bos":
			if p.model.IsUnknown(p.model.PieceToID(p.model.BOSPiece())) {
				return nil, fmt.Errorf("%w: id for %q is not defined", ErrInternal, p.model.BOSPiece())
			}
			opts = append(opts, bosOption)
		case "eos":
			if p.model.IsUnknown(p.model.PieceToID(p.model.EOSPiece())) {
				return nil, fmt.Errorf("%w: id for %q is not defined", ErrInternal, p.model.EOSPiece())
			}
			opts = append(opts, eosOption)
		case "reverse":
			opts = append(opts, reverseOption)
		default:
			return nil, fmt.Errorf("%w: option %q is not available", ErrInternal, name)
		}
	}
	return opts, nil
}

// applyExtraOptions rewrites the piece list in option order: REVERSE flips
// it, EOS appends the EOS piece, BOS prepends the BOS piece.
func (p *Processor) applyExtraOptions(opts []extraOption, spt *modelproto.SentencePieceText) {
	for _, opt := range opts {
		switch opt {
		case reverseOption:
			for i, j := 0, len(spt.Pieces)-1; i < j; i, j = i+1, j-1 {
				spt.Pieces[i], spt.Pieces[j] = spt.Pieces[j], spt.Pieces[i]
			}
		case eosOption:
			spt.Pieces = append(spt.Pieces, modelproto.TextPiece{
				Piece: p.model.EOSPiece(),
				ID:    int32(p.model.PieceToID(p.model.EOSPiece())),
			})
		case bosOption:
			spt.Pieces = append([]modelproto.TextPiece{{
				Piece: p.model.BOSPiece(),
				ID:    int32(p.model.PieceToID(p.model.BOSPiece())),
			}}, spt.Pieces...)
		}
	}
}

// SetVocabulary restricts the effective vocabulary to the allow-set: pieces
// outside it become UNUSED unless they are control, unknown, user-defined or
// single-character pieces. Only unigram and BPE models support this.
func (p *Processor) SetVocabulary(validVocab []string) error {
	if err := p.status(); err != nil {
		return err
	}
	modelType := p.proto.TrainerSpec.ModelType
	if modelType != modelproto.ModelUnigram && modelType != modelproto.ModelBPE {
		return fmt.Errorf("%w: vocabulary constraint is only enabled in subword units", ErrInvalidArgument)
	}

	vocab := make(map[string]struct{}, len(validVocab))
	for _, piece := range validVocab {
		vocab[piece] = struct{}{}
	}

	for i := range p.proto.Pieces {
		piece := &p.proto.Pieces[i]
		switch piece.Type {
		case modelproto.TypeControl, modelproto.TypeUnknown, modelproto.TypeUserDefined:
			continue
		}
		_, allowed := vocab[piece.Piece]
		if allowed || oneCharLen(piece.Piece) == len(piece.Piece) {
			piece.Type = modelproto.TypeNormal
		} else {
			piece.Type = modelproto.TypeUnused
		}
	}

	return p.rebuildModel()
}

// ResetVocabulary undoes SetVocabulary by flipping UNUSED pieces back to
// NORMAL.
func (p *Processor) ResetVocabulary() error {
	if err := p.status(); err != nil {
		return err
	}
	for i := range p.proto.Pieces {
		if p.proto.Pieces[i].Type == modelproto.TypeUnused {
			p.proto.Pieces[i].Type = modelproto.TypeNormal
		}
	}
	return p.rebuildModel()
}

// LoadVocabulary reads a tab-separated "piece[\tfreq]" file and applies
// SetVocabulary with the pieces whose frequency reaches threshold.
func (p *Processor) LoadVocabulary(filename string, threshold int) error {
	f, err := os.Open(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: vocabulary file %q", ErrNotFound, filename)
		}
		return fmt.Errorf("open vocabulary %q: %w", filename, err)
	}
	defer f.Close()

	var vocab []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if fields[0] == "" {
			return fmt.Errorf("%w: vocabulary entry with empty piece", ErrInternal)
		}
		freq := 1
		if len(fields) >= 2 {
			freq, err = strconv.Atoi(fields[1])
			if err != nil {
				return fmt.Errorf("%w: could not parse the frequency %q", ErrInternal, fields[1])
			}
		}
		if freq >= threshold {
			vocab = append(vocab, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read vocabulary %q: %w", filename, err)
	}
	return p.SetVocabulary(vocab)
}

// rebuildModel reconstructs the kernel after a piece-type mutation so the
// encode paths see the updated vocabulary.
func (p *Processor) rebuildModel() error {
	model, err := kernel.New(p.proto)
	if err != nil {
		return err
	}
	p.model = model
	p.norm.SetPrefixMatcher(model.PrefixMatcher())
	return nil
}

// GetPieceSize returns the vocabulary size, or 0 when not loaded.
func (p *Processor) GetPieceSize() int {
	if err := p.status(); err != nil {
		logDefault(err, 0)
		return 0
	}
	return p.model.GetPieceSize()
}

// PieceToID maps a piece spelling to its id; out-of-vocabulary pieces map to
// the unknown id. Returns 0 when not loaded.
func (p *Processor) PieceToID(piece string) int {
	if err := p.status(); err != nil {
		logDefault(err, 0)
		return 0
	}
	return p.model.PieceToID(piece)
}

// IDToPiece maps an id to its canonical spelling. Returns "" when not loaded.
func (p *Processor) IDToPiece(id int) string {
	if err := p.status(); err != nil {
		logDefault(err, "")
		return ""
	}
	return p.model.IDToPiece(id)
}

// GetScore returns the model score of id, or 0 when not loaded.
func (p *Processor) GetScore(id int) float32 {
	if err := p.status(); err != nil {
		logDefault(err, 0.0)
		return 0
	}
	return p.model.GetScore(id)
}

// IsControl reports whether id is a control piece.
func (p *Processor) IsControl(id int) bool {
	if err := p.status(); err != nil {
		logDefault(err, false)
		return false
	}
	return p.model.IsControl(id)
}

// IsUnknown reports whether id is the unknown piece.
func (p *Processor) IsUnknown(id int) bool {
	if err := p.status(); err != nil {
		logDefault(err, false)
		return false
	}
	return p.model.IsUnknown(id)
}

// IsUnused reports whether id was masked out by a vocabulary constraint.
func (p *Processor) IsUnused(id int) bool {
	if err := p.status(); err != nil {
		logDefault(err, false)
		return false
	}
	return p.model.IsUnused(id)
}

// IsByte reports whether id is a byte-fallback piece.
func (p *Processor) IsByte(id int) bool {
	if err := p.status(); err != nil {
		logDefault(err, false)
		return false
	}
	return p.model.IsByte(id)
}

// UnkID returns the id of the unknown piece, or -1 if it is not defined.
func (p *Processor) UnkID() int {
	if err := p.status(); err != nil {
		logDefault(err, -1)
		return -1
	}
	id := p.model.PieceToID(p.model.UnkPiece())
	if p.model.IsUnknown(id) {
		return id
	}
	return -1
}

// BOSID returns the id of the BOS piece, or -1 if it is not a control piece.
func (p *Processor) BOSID() int {
	if err := p.status(); err != nil {
		logDefault(err, -1)
		return -1
	}
	id := p.model.PieceToID(p.model.BOSPiece())
	if p.model.IsControl(id) {
		return id
	}
	return -1
}

// EOSID returns the id of the EOS piece, or -1 if it is not a control piece.
func (p *Processor) EOSID() int {
	if err := p.status(); err != nil {
		logDefault(err, -1)
		return -1
	}
	id := p.model.PieceToID(p.model.EOSPiece())
	if p.model.IsControl(id) {
		return id
	}
	return -1
}

// PadID returns the id of the PAD piece, or -1 if it is not a control piece.
func (p *Processor) PadID() int {
	if err := p.status(); err != nil {
		logDefault(err, -1)
		return -1
	}
	id := p.model.PieceToID(p.model.PadPiece())
	if p.model.IsControl(id) {
		return id
	}
	return -1
}

// unkSurface is the visible replacement for canonical unknown pieces.
func (p *Processor) unkSurface() string {
	if p.proto != nil && p.proto.TrainerSpec.HasUnkSurface {
		return p.proto.TrainerSpec.UnkSurface
	}
	return defaultUnkSurface
}

func logDefault(err error, value any) {
	slog.Error("processor not ready; returning default", "err", err, "default", value)
}

// oneCharLen returns the UTF-8 length encoded in the leading byte.
func oneCharLen(s string) int {
	if s == "" {
		return 0
	}
	switch {
	case s[0] < 0x80:
		return 1
	case s[0] >= 0xC0 && s[0] <= 0xDF:
		return 2
	case s[0] >= 0xE0 && s[0] <= 0xEF:
		return 3
	case s[0] >= 0xF0 && s[0] <= 0xF7:
		return 4
	}
	return 1
}
