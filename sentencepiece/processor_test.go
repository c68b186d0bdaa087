package sentencepiece

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/example/go-sentencepiece/internal/kernel"
	"github.com/example/go-sentencepiece/internal/normalizer"
	"github.com/example/go-sentencepiece/internal/testutil"
	"github.com/example/go-sentencepiece/modelproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newHelloProcessor loads the S-scenario unigram model: "Hello" segments into
// ▁He + llo.
func newHelloProcessor(t *testing.T, extra ...testutil.PieceSpec) *Processor {
	t.Helper()
	pieces := append([]testutil.PieceSpec{
		testutil.Normal("▁He", -0.5),
		testutil.Normal("llo", -0.5),
	}, extra...)
	p := NewProcessor()
	require.NoError(t, p.LoadFromModelProto(testutil.NewModel(modelproto.ModelUnigram, pieces...)))
	return p
}

// fakeModel scripts the kernel result so the pipeline walks exercise exact
// piece sequences.
type fakeModel struct {
	result kernel.Result
	types  map[int]modelproto.PieceType
	vocab  map[string]int
	rev    map[int]string
	byteFB bool
	unk    int
}

func (f *fakeModel) Encode(string) (kernel.Result, error) { return f.result, nil }

func (f *fakeModel) NBestEncode(string, int) ([]kernel.ScoredResult, error) {
	return nil, errors.New("unavailable")
}

func (f *fakeModel) SampleEncode(string, float32, *rand.Rand) (kernel.Result, error) {
	return nil, errors.New("unavailable")
}

func (f *fakeModel) NBestAvailable() bool  { return false }
func (f *fakeModel) SampleAvailable() bool { return false }

func (f *fakeModel) PieceToID(piece string) int {
	if id, ok := f.vocab[piece]; ok {
		return id
	}
	return f.unk
}

func (f *fakeModel) IDToPiece(id int) string { return f.rev[id] }
func (f *fakeModel) GetScore(int) float32    { return 0 }
func (f *fakeModel) GetPieceSize() int       { return len(f.rev) }

func (f *fakeModel) IsControl(id int) bool     { return f.types[id] == modelproto.TypeControl }
func (f *fakeModel) IsUnknown(id int) bool     { return f.types[id] == modelproto.TypeUnknown }
func (f *fakeModel) IsUnused(id int) bool      { return f.types[id] == modelproto.TypeUnused }
func (f *fakeModel) IsUserDefined(id int) bool { return f.types[id] == modelproto.TypeUserDefined }
func (f *fakeModel) IsByte(id int) bool        { return f.types[id] == modelproto.TypeByte }

func (f *fakeModel) ByteFallbackEnabled() bool { return f.byteFB }

func (f *fakeModel) UnkPiece() string { return "<unk>" }
func (f *fakeModel) BOSPiece() string { return "<s>" }
func (f *fakeModel) EOSPiece() string { return "</s>" }
func (f *fakeModel) PadPiece() string { return "<pad>" }

func (f *fakeModel) SetEncoderVersion(int) error { return nil }
func (f *fakeModel) EncoderVersion() int         { return 0 }

func (f *fakeModel) VerifyOutputsEquivalent(expected, actual string) bool {
	return expected == actual
}

func (f *fakeModel) PrefixMatcher() *normalizer.PrefixMatcher { return nil }
func (f *fakeModel) Status() error                            { return nil }

func TestProcessorNotReady(t *testing.T) {
	p := NewProcessor()

	_, err := p.Encode("Hello")
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = p.Decode([]string{"▁He"})
	assert.ErrorIs(t, err, ErrNotReady)

	assert.Equal(t, 0, p.GetPieceSize())
	assert.Equal(t, "", p.IDToPiece(0))
	assert.Equal(t, float32(0), p.GetScore(0))
	assert.False(t, p.IsControl(0))
	assert.Equal(t, -1, p.UnkID())
	assert.Equal(t, -1, p.BOSID())
}

func TestLoadEmptyFilename(t *testing.T) {
	p := NewProcessor()
	assert.ErrorIs(t, p.Load(""), ErrNotFound)
}

func TestLoadMissingFile(t *testing.T) {
	p := NewProcessor()
	assert.ErrorIs(t, p.Load(filepath.Join(t.TempDir(), "missing.model")), ErrNotFound)
}

func TestLoadFromFile(t *testing.T) {
	mp := testutil.NewModel(modelproto.ModelUnigram,
		testutil.Normal("▁He", -0.5),
		testutil.Normal("llo", -0.5),
	)
	path := filepath.Join(t.TempDir(), "test.model")
	require.NoError(t, os.WriteFile(path, mp.Marshal(), 0o644))

	p := NewProcessor()
	require.NoError(t, p.Load(path))

	pieces, err := p.Encode("Hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"▁He", "llo"}, pieces)
}

func TestSaveModelRoundTrip(t *testing.T) {
	p := newHelloProcessor(t)
	path := filepath.Join(t.TempDir(), "saved.model")
	require.NoError(t, p.SaveModel(path))

	q := NewProcessor()
	require.NoError(t, q.Load(path))
	assert.Equal(t, p.GetPieceSize(), q.GetPieceSize())
}

func TestSerializedModelProto(t *testing.T) {
	p := NewProcessor()
	assert.Nil(t, p.SerializedModelProto())

	p = newHelloProcessor(t)
	data := p.SerializedModelProto()
	require.NotEmpty(t, data)

	decoded, err := modelproto.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, p.ModelProto().Pieces, decoded.Pieces)
}

func TestSelfTestPasses(t *testing.T) {
	mp := testutil.NewModel(modelproto.ModelUnigram,
		testutil.Normal("▁He", -0.5),
		testutil.Normal("llo", -0.5),
	)
	mp.SelfTestData.Samples = []modelproto.SelfTestSample{
		{Input: "Hello", Expected: "▁He llo"},
	}

	p := NewProcessor()
	assert.NoError(t, p.LoadFromModelProto(mp))
}

func TestSelfTestFails(t *testing.T) {
	mp := testutil.NewModel(modelproto.ModelUnigram,
		testutil.Normal("▁He", -0.5),
		testutil.Normal("llo", -0.5),
	)
	mp.SelfTestData.Samples = []modelproto.SelfTestSample{
		{Input: "Hello", Expected: "▁Hel lo"},
	}

	p := NewProcessor()
	assert.ErrorIs(t, p.LoadFromModelProto(mp), ErrInternal)
}

func TestSetExtraOptions(t *testing.T) {
	p := newHelloProcessor(t)

	assert.NoError(t, p.SetEncodeExtraOptions("bos:eos"))
	assert.NoError(t, p.SetEncodeExtraOptions("reverse"))
	assert.NoError(t, p.SetEncodeExtraOptions(""))
	assert.ErrorIs(t, p.SetEncodeExtraOptions("bogus"), ErrInternal)
	assert.ErrorIs(t, p.SetDecodeExtraOptions("bos:nope"), ErrInternal)
}

func TestSetExtraOptionsRequiresSpecialPieces(t *testing.T) {
	mp := modelproto.New()
	mp.TrainerSpec.ModelType = modelproto.ModelUnigram
	mp.Pieces = []modelproto.SentencePiece{
		{Piece: "<unk>", Type: modelproto.TypeUnknown},
		{Piece: "a", Score: -1, Type: modelproto.TypeNormal},
	}

	p := NewProcessor()
	require.NoError(t, p.LoadFromModelProto(mp))

	assert.ErrorIs(t, p.SetEncodeExtraOptions("bos"), ErrInternal)
	assert.ErrorIs(t, p.SetEncodeExtraOptions("eos"), ErrInternal)
	assert.NoError(t, p.SetEncodeExtraOptions("reverse"))
}

func TestSpecialIDs(t *testing.T) {
	p := newHelloProcessor(t)

	assert.Equal(t, 0, p.UnkID())
	assert.Equal(t, 1, p.BOSID())
	assert.Equal(t, 2, p.EOSID())
	assert.Equal(t, -1, p.PadID())

	assert.True(t, p.IsUnknown(0))
	assert.True(t, p.IsControl(1))
	assert.True(t, p.IsControl(2))
	assert.False(t, p.IsByte(0))
}

func TestPieceAccessors(t *testing.T) {
	p := newHelloProcessor(t)

	assert.Equal(t, 5, p.GetPieceSize())
	assert.Equal(t, 3, p.PieceToID("▁He"))
	assert.Equal(t, "▁He", p.IDToPiece(3))
	assert.Equal(t, float32(-0.5), p.GetScore(3))

	// Out-of-vocabulary pieces resolve to the unknown id.
	assert.Equal(t, 0, p.PieceToID("zzz"))
}

func TestSetVocabulary(t *testing.T) {
	p := newHelloProcessor(t, testutil.Normal("x", -1))

	require.NoError(t, p.SetVocabulary([]string{"▁He"}))

	assert.True(t, p.IsUnused(p.PieceToID("llo")))
	assert.False(t, p.IsUnused(p.PieceToID("▁He")))
	// Single-character pieces survive regardless of the allow-set.
	assert.False(t, p.IsUnused(p.PieceToID("x")))

	spt, err := p.EncodeText("Hello")
	require.NoError(t, err)
	require.Len(t, spt.Pieces, 2)
	assert.Equal(t, "▁He", spt.Pieces[0].Piece)
	assert.True(t, p.IsUnknown(int(spt.Pieces[1].ID)))

	require.NoError(t, p.ResetVocabulary())
	pieces, err := p.Encode("Hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"▁He", "llo"}, pieces)
}

func TestSetVocabularyWrongModelType(t *testing.T) {
	mp := testutil.NewModel(modelproto.ModelWord, testutil.Normal("▁Hello", -1))
	p := NewProcessor()
	require.NoError(t, p.LoadFromModelProto(mp))

	assert.ErrorIs(t, p.SetVocabulary([]string{"▁Hello"}), ErrInvalidArgument)
}

func TestLoadVocabulary(t *testing.T) {
	p := newHelloProcessor(t)

	path := filepath.Join(t.TempDir(), "vocab.tsv")
	require.NoError(t, os.WriteFile(path, []byte("▁He\t10\nllo\t1\n"), 0o644))

	require.NoError(t, p.LoadVocabulary(path, 5))
	assert.False(t, p.IsUnused(p.PieceToID("▁He")))
	assert.True(t, p.IsUnused(4))
}

func TestLoadVocabularyBadFrequency(t *testing.T) {
	p := newHelloProcessor(t)

	path := filepath.Join(t.TempDir(), "vocab.tsv")
	require.NoError(t, os.WriteFile(path, []byte("▁He\tmany\n"), 0o644))

	assert.ErrorIs(t, p.LoadVocabulary(path, 0), ErrInternal)
}

func TestConcurrentEncodeDecode(t *testing.T) {
	p := newHelloProcessor(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pieces, err := p.Encode("Hello")
				assert.NoError(t, err)
				assert.Equal(t, []string{"▁He", "llo"}, pieces)

				text, err := p.Decode(pieces)
				assert.NoError(t, err)
				assert.Equal(t, "Hello", text)
			}
		}()
	}
	wg.Wait()
}

func TestSetNormalizerSeam(t *testing.T) {
	p := newHelloProcessor(t)

	// Without the dummy prefix the leading ▁He piece can no longer match;
	// the head of the word degrades to a merged unknown run.
	spec := modelproto.NormalizerSpec{EscapeWhitespaces: true}
	p.setNormalizer(normalizer.New(spec, modelproto.TrainerSpec{}))

	pieces, err := p.Encode("Hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"He", "llo"}, pieces)
}

func TestEncoderVersion(t *testing.T) {
	p := newHelloProcessor(t)

	assert.Equal(t, kernel.EncoderVersionOriginal, p.GetEncoderVersion())
	require.NoError(t, p.SetEncoderVersion(kernel.EncoderVersionOptimized))
	assert.Equal(t, kernel.EncoderVersionOptimized, p.GetEncoderVersion())
	assert.Error(t, p.SetEncoderVersion(7))
}
