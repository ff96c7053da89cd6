package rules

// Sound is the cue a client plays for a move.
type Sound string

const (
	SoundPlain     Sound = "move"
	SoundCapture   Sound = "capture"
	SoundCheck     Sound = "check"
	SoundCastle    Sound = "castle"
	SoundPromotion Sound = "promote"
)

// SoundFor picks one cue from move flags. Check wins over promotion, then castle, then capture.
func SoundFor(flags []string) Sound {
	has := make(map[string]bool, len(flags))
	for _, f := range flags {
		has[f] = true
	}
	switch {
	case has[FlagCheck]:
		return SoundCheck
	case has[FlagPromotion]:
		return SoundPromotion
	case has[FlagCastleKingside] || has[FlagCastleQueenside]:
		return SoundCastle
	case has[FlagCapture] || has[FlagEnPassant]:
		return SoundCapture
	default:
		return SoundPlain
	}
}
