package boardimg

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/draw"
	"regexp"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

//go:embed assets/pieces/*.svg
var pieceFiles embed.FS

// sprites holds every piece rasterized at one square size.
type sprites struct {
	once sync.Once
	imgs map[nchess.Piece]image.Image
	err  error
}

var spriteSets sync.Map // int -> *sprites

var allPieces = []nchess.Piece{
	nchess.WhiteKing, nchess.WhiteQueen, nchess.WhiteRook, nchess.WhiteBishop, nchess.WhiteKnight, nchess.WhitePawn,
	nchess.BlackKing, nchess.BlackQueen, nchess.BlackRook, nchess.BlackBishop, nchess.BlackKnight, nchess.BlackPawn,
}

// pieceSprite returns the image for piece at size pixels square. The whole
// set for a size is rasterized once, on first use.
func pieceSprite(piece nchess.Piece, size int) (image.Image, error) {
	v, _ := spriteSets.LoadOrStore(size, &sprites{})
	set := v.(*sprites)
	set.once.Do(func() {
		set.imgs = make(map[nchess.Piece]image.Image, len(allPieces))
		for _, p := range allPieces {
			img, err := rasterizePiece(p, size)
			if err != nil {
				set.err = err
				return
			}
			set.imgs[p] = img
		}
	})
	if set.err != nil {
		return nil, set.err
	}
	img, ok := set.imgs[piece]
	if !ok {
		return nil, fmt.Errorf("no sprite for piece %d", piece)
	}
	return img, nil
}

func rasterizePiece(piece nchess.Piece, size int) (image.Image, error) {
	name := spriteFile(piece)
	data, err := pieceFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read piece asset %s: %w", name, err)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(normalizeStyle(data)))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg %s: %w", name, err)
	}
	// Assets without a viewBox would scale from zero.
	if icon.ViewBox.W <= 0 {
		icon.ViewBox.W = float64(size)
	}
	if icon.ViewBox.H <= 0 {
		icon.ViewBox.H = float64(size)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.Transparent, image.Point{}, draw.Src)
	raster := rasterx.NewDasher(size, size, rasterx.NewScannerGV(size, size, img, img.Bounds()))
	icon.Draw(raster, 1.0)
	return img, nil
}

// spriteFile maps a piece to its asset, e.g. "assets/pieces/wN.svg".
func spriteFile(piece nchess.Piece) string {
	return "assets/pieces/" + piece.Color().String() + strings.ToUpper(piece.Type().String()) + ".svg"
}

var styleColor = regexp.MustCompile(`(fill|stroke|stop-color)\s*:\s*#?([0-9a-fA-F]{6})\b`)

// normalizeStyle rewrites inline style colors oksvg rejects, such as
// "fill: #fff000" or a hex value missing its '#', into "fill:#fff000".
func normalizeStyle(svg []byte) []byte {
	return styleColor.ReplaceAll(svg, []byte("$1:#$2"))
}
