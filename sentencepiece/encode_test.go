package sentencepiece

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/example/go-sentencepiece/internal/kernel"
	"github.com/example/go-sentencepiece/internal/testutil"
	"github.com/example/go-sentencepiece/modelproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTextOffsets(t *testing.T) {
	p := newHelloProcessor(t)

	spt, err := p.EncodeText("Hello")
	require.NoError(t, err)

	assert.Equal(t, "Hello", spt.Text)
	require.Len(t, spt.Pieces, 2)

	assert.Equal(t, "▁He", spt.Pieces[0].Piece)
	assert.Equal(t, "He", spt.Pieces[0].Surface)
	assert.Equal(t, uint32(0), spt.Pieces[0].Begin)
	assert.Equal(t, uint32(2), spt.Pieces[0].End)

	assert.Equal(t, "llo", spt.Pieces[1].Piece)
	assert.Equal(t, "llo", spt.Pieces[1].Surface)
	assert.Equal(t, uint32(2), spt.Pieces[1].Begin)
	assert.Equal(t, uint32(5), spt.Pieces[1].End)
}

func TestEncodeEmptyInput(t *testing.T) {
	p := newHelloProcessor(t)

	pieces, err := p.Encode("")
	require.NoError(t, err)
	assert.Empty(t, pieces)

	spt, err := p.EncodeText("")
	require.NoError(t, err)
	assert.Empty(t, spt.Pieces)
	assert.Equal(t, "", spt.Text)
}

func TestEncodeMergesUnknownRun(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.LoadFromModelProto(testutil.NewModel(modelproto.ModelUnigram,
		testutil.Normal("▁", -1),
	)))

	spt, err := p.EncodeText("qq")
	require.NoError(t, err)
	require.Len(t, spt.Pieces, 2)

	assert.Equal(t, "▁", spt.Pieces[0].Piece)
	assert.Equal(t, "", spt.Pieces[0].Surface)

	merged := spt.Pieces[1]
	assert.Equal(t, "qq", merged.Piece)
	assert.Equal(t, "qq", merged.Surface)
	assert.True(t, p.IsUnknown(int(merged.ID)))
	assert.Equal(t, uint32(0), merged.Begin)
	assert.Equal(t, uint32(2), merged.End)
}

func TestEncodeByteFallback(t *testing.T) {
	mp := testutil.WithByteFallback(testutil.NewModel(modelproto.ModelUnigram,
		testutil.Normal("▁", -1),
	))
	p := NewProcessor()
	require.NoError(t, p.LoadFromModelProto(mp))

	spt, err := p.EncodeText("€")
	require.NoError(t, err)
	require.Len(t, spt.Pieces, 4)

	assert.Equal(t, "▁", spt.Pieces[0].Piece)

	want := []string{"<0xE2>", "<0x82>", "<0xAC>"}
	for i, piece := range spt.Pieces[1:] {
		assert.Equal(t, want[i], piece.Piece)
		assert.True(t, p.IsByte(int(piece.ID)))
	}

	// Only the final byte piece carries the surface.
	assert.Equal(t, "", spt.Pieces[1].Surface)
	assert.Equal(t, "", spt.Pieces[2].Surface)
	assert.Equal(t, "€", spt.Pieces[3].Surface)
	assert.Equal(t, uint32(0), spt.Pieces[3].Begin)
	assert.Equal(t, uint32(3), spt.Pieces[3].End)
}

func TestEncodeControlPieceOffsets(t *testing.T) {
	p := newHelloProcessor(t)
	p.setModel(&fakeModel{
		result: kernel.Result{
			{Piece: "<s>", ID: 1},
			{Piece: "▁Hello", ID: 3},
		},
		types: map[int]modelproto.PieceType{
			1: modelproto.TypeControl,
			3: modelproto.TypeNormal,
		},
		rev: map[int]string{1: "<s>", 3: "▁Hello"},
	})

	spt, err := p.EncodeText("Hello")
	require.NoError(t, err)
	require.Len(t, spt.Pieces, 2)

	assert.Equal(t, "<s>", spt.Pieces[0].Piece)
	assert.Equal(t, spt.Pieces[0].Begin, spt.Pieces[0].End)
	assert.Equal(t, "Hello", spt.Pieces[1].Surface)
}

func TestEncodeRejectsEmptyPiece(t *testing.T) {
	p := newHelloProcessor(t)
	p.setModel(&fakeModel{result: kernel.Result{{Piece: "", ID: 3}}})

	_, err := p.EncodeText("Hello")
	assert.ErrorIs(t, err, ErrInternal)
}

func TestEncodeRejectsUnconsumedInput(t *testing.T) {
	p := newHelloProcessor(t)
	p.setModel(&fakeModel{
		result: kernel.Result{{Piece: "▁He", ID: 3}},
		types:  map[int]modelproto.PieceType{3: modelproto.TypeNormal},
	})

	_, err := p.EncodeText("Hello")
	assert.ErrorIs(t, err, ErrInternal)
}

func TestEncodeExtraOptions(t *testing.T) {
	p := newHelloProcessor(t, testutil.Normal("▁x", -1))

	require.NoError(t, p.SetEncodeExtraOptions("bos:eos"))
	pieces, err := p.Encode("x")
	require.NoError(t, err)
	assert.Equal(t, []string{"<s>", "▁x", "</s>"}, pieces)

	require.NoError(t, p.SetEncodeExtraOptions("reverse:eos"))
	pieces, err = p.Encode("Hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"llo", "▁He", "</s>"}, pieces)

	// REVERSE twice is the identity.
	require.NoError(t, p.SetEncodeExtraOptions("reverse:reverse"))
	pieces, err = p.Encode("Hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"▁He", "llo"}, pieces)
}

func TestEncodeRunLengthFold(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.LoadFromModelProto(testutil.NewModel(modelproto.ModelUnigram,
		testutil.Normal("▁x", -1),
		testutil.Normal("x", -1),
	)))

	pieces, err := p.Encode("xxxx")
	require.NoError(t, err)
	assert.Equal(t, []string{"▁x", "x", "(#startrepeat)", "3", "(#endrepeat)"}, pieces)
}

func TestNBestEncode(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.LoadFromModelProto(testutil.NewModel(modelproto.ModelUnigram,
		testutil.Normal("▁ab", -1),
		testutil.Normal("▁a", -1.5),
		testutil.Normal("b", -1.5),
	)))

	nbest, err := p.NBestEncode("ab", 2)
	require.NoError(t, err)
	require.Len(t, nbest, 2)
	assert.Equal(t, []string{"▁ab"}, nbest[0])
	assert.Equal(t, []string{"▁a", "b"}, nbest[1])

	ids, err := p.NBestEncodeIDs("ab", 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, []int{p.PieceToID("▁ab")}, ids[0])

	nspt, err := p.NBestEncodeText("ab", 2)
	require.NoError(t, err)
	require.Len(t, nspt.NBests, 2)
	assert.Greater(t, nspt.NBests[0].Score, nspt.NBests[1].Score)
	assert.Equal(t, "ab", nspt.NBests[0].Text)
}

func TestNBestEncodeUnavailable(t *testing.T) {
	mp := testutil.NewModel(modelproto.ModelBPE, testutil.Normal("a", -1))
	p := NewProcessor()
	require.NoError(t, p.LoadFromModelProto(mp))

	_, err := p.NBestEncode("a", 2)
	assert.ErrorIs(t, err, ErrInternal)
}

func TestSampleEncodeGreedyForSizeOne(t *testing.T) {
	p := newHelloProcessor(t)

	greedy, err := p.Encode("Hello")
	require.NoError(t, err)

	for _, nbest := range []int{0, 1} {
		sampled, err := p.SampleEncode("Hello", nbest, 0.5)
		require.NoError(t, err)
		assert.Equal(t, greedy, foldRepeats(sampled))
	}
}

func TestSampleEncodeBound(t *testing.T) {
	p := newHelloProcessor(t)

	_, err := p.SampleEncode("Hello", 513, 0.1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSampleEncodeDrawsFromTopN(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.LoadFromModelProto(testutil.NewModel(modelproto.ModelUnigram,
		testutil.Normal("▁ab", -1),
		testutil.Normal("▁a", -1.5),
		testutil.Normal("b", -1.5),
	)))
	p.SetRandomSource(rand.New(rand.NewSource(11)))

	candidates, err := p.NBestEncode("ab", 3)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 60; i++ {
		sampled, err := p.SampleEncode("ab", 3, 0)
		require.NoError(t, err)
		seen[strings.Join(sampled, " ")] = true

		found := false
		for _, candidate := range candidates {
			if strings.Join(candidate, " ") == strings.Join(sampled, " ") {
				found = true
			}
		}
		assert.True(t, found, "sampled %v is not a top-n candidate", sampled)
	}
	// With alpha=0 the draw is uniform; the two main segmentations must both
	// show up over 60 draws.
	assert.True(t, seen["▁ab"])
	assert.True(t, seen["▁a b"])
}

func TestSampleEncodeUnavailable(t *testing.T) {
	mp := testutil.NewModel(modelproto.ModelBPE,
		testutil.Normal("▁", -1),
		testutil.Normal("a", -1),
		testutil.Normal("▁a", -0.5),
	)
	p := NewProcessor()
	require.NoError(t, p.LoadFromModelProto(mp))

	// Without nbest support every request lands in the sampler branch, and
	// BPE has no sampler either.
	for _, nbest := range []int{-1, 0, 1, 3} {
		_, err := p.SampleEncode("a", nbest, 0.1)
		assert.ErrorIs(t, err, ErrInternal)
	}
}

func TestEncodeAsSerializedProto(t *testing.T) {
	p := newHelloProcessor(t)

	data := p.EncodeAsSerializedProto("Hello")
	require.NotEmpty(t, data)

	spt, err := modelproto.UnmarshalText(data)
	require.NoError(t, err)
	assert.Equal(t, "Hello", spt.Text)
	require.Len(t, spt.Pieces, 2)

	// Errors are swallowed: an unloaded processor yields empty bytes.
	assert.Empty(t, NewProcessor().EncodeAsSerializedProto("Hello"))
}
