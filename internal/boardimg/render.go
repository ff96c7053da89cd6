// Package boardimg draws a position as a PNG board preview.
package boardimg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	squareSize  = 64
	boardSize   = squareSize * 8
	sideMargin  = 28
	topMargin   = 56
	bottomBand  = 28
	panelHeight = 30
	panelRadius = 10
)

var ErrBadFEN = errors.New("boardimg: invalid fen")

// Highlight marks the last move.
type Highlight struct {
	From string
	To   string
}

type Options struct {
	Highlight *Highlight
	// Flip draws the board from black's side.
	Flip   bool
	Header string
}

var (
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	backgroundColor     = color.RGBA{20, 22, 33, 255}
	whiteMoveFill       = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	blackMoveFill       = color.NRGBA{R: 148, G: 207, B: 255, A: 150}
	hudPanelColor       = color.NRGBA{R: 28, G: 31, B: 46, A: 250}
	hudTextPrimary      = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordinateTextColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

// RenderPNG draws fen. The header panel shows opts.Header and the side to move.
func RenderPNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	board, turn, err := parse(fen)
	if err != nil {
		return nil, err
	}
	width := boardSize + sideMargin*2
	height := boardSize + topMargin + bottomBand
	origin := image.Point{X: sideMargin, Y: topMargin}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawHeader(img, opts.Header, turn, image.Rect(origin.X, 12, origin.X+boardSize, 12+panelHeight))
	drawSquares(img, origin, opts.Flip)
	drawHighlight(img, board, opts.Highlight, origin, opts.Flip)
	if err := drawPieces(img, board, origin, opts.Flip); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin, opts.Flip)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func parse(fen string) (*nchess.Board, nchess.Color, error) {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, nchess.NoColor, fmt.Errorf("%w: %v", ErrBadFEN, err)
	}
	pos := nchess.NewGame(opt).Position()
	return pos.Board(), pos.Turn(), nil
}

// squareRect maps a square to pixels. Row 0 is the top of the image.
func squareRect(sq nchess.Square, origin image.Point, flip bool) image.Rectangle {
	col, row := int(sq.File()), 7-int(sq.Rank())
	if flip {
		col, row = 7-col, 7-row
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func eachSquare(fn func(sq nchess.Square)) {
	for r := 0; r < 8; r++ {
		for f := 0; f < 8; f++ {
			fn(nchess.NewSquare(nchess.File(f), nchess.Rank(r)))
		}
	}
}

func drawSquares(dst *image.RGBA, origin image.Point, flip bool) {
	eachSquare(func(sq nchess.Square) {
		clr := lightSquare
		if (int(sq.File())+int(sq.Rank()))%2 == 0 {
			clr = darkSquare
		}
		imagedraw.Draw(dst, squareRect(sq, origin, flip), image.NewUniform(clr), image.Point{}, imagedraw.Src)
	})
}

func drawPieces(dst *image.RGBA, board *nchess.Board, origin image.Point, flip bool) error {
	var firstErr error
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := pieceSprite(piece, squareSize)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		imagedraw.Draw(dst, squareRect(sq, origin, flip), img, image.Point{}, imagedraw.Over)
	}
	return firstErr
}

func drawHighlight(dst *image.RGBA, board *nchess.Board, h *Highlight, origin image.Point, flip bool) {
	if h == nil {
		return
	}
	from, okFrom := squareOf(h.From)
	to, okTo := squareOf(h.To)
	if !okFrom || !okTo {
		return
	}
	fill := whiteMoveFill
	if p := board.Piece(to); p != nchess.NoPiece && p.Color() == nchess.Black {
		fill = blackMoveFill
	}
	for _, sq := range []nchess.Square{from, to} {
		imagedraw.Draw(dst, squareRect(sq, origin, flip), image.NewUniform(fill), image.Point{}, imagedraw.Over)
	}
}

func squareOf(s string) (nchess.Square, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		var zero nchess.Square
		return zero, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

func drawHeader(dst *image.RGBA, header string, turn nchess.Color, rect image.Rectangle) {
	text := strings.TrimSpace(header)
	side := "White to move"
	if turn == nchess.Black {
		side = "Black to move"
	}
	if text == "" {
		text = side
	} else {
		text += "  |  " + side
	}
	drawRoundedPanel(dst, rect, panelRadius, hudPanelColor)
	drawer := &font.Drawer{Dst: dst, Face: basicfont.Face7x13}
	drawCenteredString(drawer, rect, text, hudTextPrimary)
}

func drawCoordinates(dst *image.RGBA, origin image.Point, flip bool) {
	drawer := &font.Drawer{Dst: dst, Face: basicfont.Face7x13, Src: image.NewUniform(coordinateTextColor)}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		file, rank := i, 7-i
		if flip {
			file, rank = 7-i, i
		}
		centerX := origin.X + i*squareSize + squareSize/2
		drawCenteredText(drawer, string(rune('a'+file)), centerX, origin.Y+boardSize+ascent+6)
		centerY := origin.Y + i*squareSize + squareSize/2
		drawCenteredText(drawer, string(rune('1'+rank)), origin.X-sideMargin/2, centerY+ascent/2)
	}
}

func drawCenteredString(drawer *font.Drawer, rect image.Rectangle, text string, clr color.Color) {
	metrics := drawer.Face.Metrics()
	width := drawer.MeasureString(text).Round()
	x := rect.Min.X + (rect.Dx()-width)/2
	if x < rect.Min.X {
		x = rect.Min.X
	}
	baseline := rect.Min.Y + (rect.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func drawRoundedPanel(img *image.RGBA, rect image.Rectangle, radius int, clr color.Color) {
	if rect.Empty() {
		return
	}
	if r := rect.Dy() / 2; radius > r {
		radius = r
	}
	fill := image.NewUniform(clr)
	imagedraw.Draw(img, image.Rect(rect.Min.X+radius, rect.Min.Y, rect.Max.X-radius, rect.Max.Y), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y+radius, rect.Min.X+radius, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Max.X-radius, rect.Min.Y+radius, rect.Max.X, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	corners := []image.Point{
		{rect.Min.X + radius, rect.Min.Y + radius},
		{rect.Max.X - radius - 1, rect.Min.Y + radius},
		{rect.Min.X + radius, rect.Max.Y - radius - 1},
		{rect.Max.X - radius - 1, rect.Max.Y - radius - 1},
	}
	for _, c := range corners {
		drawCorner(img, c, radius, rect, clr)
	}
}

// drawCorner fills the quarter disc of c that lies outside the panel's straight parts.
func drawCorner(img *image.RGBA, c image.Point, radius int, rect image.Rectangle, clr color.Color) {
	rr := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			px, py := c.X+x, c.Y+y
			if x*x+y*y > rr || !(image.Point{X: px, Y: py}).In(rect) {
				continue
			}
			inCore := px >= rect.Min.X+radius && px < rect.Max.X-radius
			inSide := py >= rect.Min.Y+radius && py < rect.Max.Y-radius
			if inCore || inSide {
				continue
			}
			img.Set(px, py, clr)
		}
	}
}
