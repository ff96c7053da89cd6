package boardimg

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/betchess/internal/rules"
)

func decode(t *testing.T, b []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	return img
}

// cornerColor samples the top-left pixel of a square, which pieces never cover.
func cornerColor(img image.Image, sq string, flip bool) (r, g, b uint32) {
	s, _ := squareOf(sq)
	rect := squareRect(s, image.Point{X: sideMargin, Y: topMargin}, flip)
	r, g, b, _ = img.At(rect.Min.X+1, rect.Min.Y+1).RGBA()
	return r >> 8, g >> 8, b >> 8
}

func TestRenderStartPosition(t *testing.T) {
	out, err := RenderPNG(context.Background(), rules.StartFEN, Options{Header: "chess-abc123"})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img := decode(t, out)
	if got := img.Bounds().Dx(); got != boardSize+2*sideMargin {
		t.Fatalf("width %d", got)
	}
	if r, g, b := cornerColor(img, "a1", false); r != 187 || g != 136 || b != 96 {
		t.Fatalf("a1 should be dark, got %d,%d,%d", r, g, b)
	}
	if r, _, _ := cornerColor(img, "h1", false); r != 233 {
		t.Fatalf("h1 should be light, got r=%d", r)
	}
}

func TestRenderFlippedWithHighlight(t *testing.T) {
	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	plain, err := RenderPNG(context.Background(), fen, Options{})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	marked, err := RenderPNG(context.Background(), fen, Options{Flip: true, Highlight: &Highlight{From: "e2", To: "e4"}})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	a, b := decode(t, plain), decode(t, marked)
	if r1, g1, b1 := cornerColor(a, "e2", false); r1 == 0 && g1 == 0 && b1 == 0 {
		t.Fatalf("e2 corner is black")
	}
	ar, ag, ab := cornerColor(a, "e2", false)
	br, bg, bb := cornerColor(b, "e2", true)
	if ar == br && ag == bg && ab == bb {
		t.Fatalf("highlight did not change e2")
	}
	if bytes.Equal(plain, marked) {
		t.Fatalf("flip produced identical output")
	}
}

func TestRenderRejectsBadInput(t *testing.T) {
	if _, err := RenderPNG(context.Background(), "not a fen", Options{}); !errors.Is(err, ErrBadFEN) {
		t.Fatalf("bad fen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := RenderPNG(ctx, rules.StartFEN, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled ctx: %v", err)
	}
}

func TestNormalizeStyle(t *testing.T) {
	in := `<path style="fill:000000; stroke: #ffffff;stop-color : #aabbcc;fill:none;stroke-width:1.5"/>`
	want := `<path style="fill:#000000; stroke:#ffffff;stop-color:#aabbcc;fill:none;stroke-width:1.5"/>`
	if got := string(normalizeStyle([]byte(in))); got != want {
		t.Fatalf("normalizeStyle:\n got %s\nwant %s", got, want)
	}
}

func TestPieceSprites(t *testing.T) {
	if got := spriteFile(nchess.WhiteKnight); got != "assets/pieces/wN.svg" {
		t.Fatalf("spriteFile(white knight) = %q", got)
	}
	if got := spriteFile(nchess.BlackPawn); got != "assets/pieces/bP.svg" {
		t.Fatalf("spriteFile(black pawn) = %q", got)
	}
	for _, p := range allPieces {
		img, err := pieceSprite(p, 40)
		if err != nil {
			t.Fatalf("pieceSprite(%v): %v", p, err)
		}
		if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 40 {
			t.Fatalf("pieceSprite(%v) bounds %v", p, img.Bounds())
		}
		if !painted(img) {
			t.Fatalf("pieceSprite(%v) is blank", p)
		}
	}
	again, _ := pieceSprite(nchess.WhiteQueen, 40)
	first, _ := pieceSprite(nchess.WhiteQueen, 40)
	if again != first {
		t.Fatalf("sprites for one size are not reused")
	}
	if _, err := pieceSprite(nchess.NoPiece, 40); err == nil {
		t.Fatalf("NoPiece should have no sprite")
	}
}

func painted(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0 {
				return true
			}
		}
	}
	return false
}
