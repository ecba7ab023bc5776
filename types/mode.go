package types

// EncodingMode selects the wire framing policy, fixed for the
// lifetime of a CM instance (spec §3, §6).
type EncodingMode int

const (
	EncodingModeSingle EncodingMode = iota
	EncodingModeBatch
	EncodingModeFragmentSingleProducer
	EncodingModeFragmentMultiProducer
)

func (m EncodingMode) String() string {
	switch m {
	case EncodingModeSingle:
		return "SINGLE"
	case EncodingModeBatch:
		return "BATCH"
	case EncodingModeFragmentSingleProducer:
		return "FRAGMENT_SINGLE_PRODUCER"
	case EncodingModeFragmentMultiProducer:
		return "FRAGMENT_MULTIPLE_PRODUCER"
	default:
		return "UNKNOWN_MODE"
	}
}

// IsFragmented reports whether the mode carries a fragment counter and
// flags byte per action (the two FRAGMENT_* modes).
func (m EncodingMode) IsFragmented() bool {
	return m == EncodingModeFragmentSingleProducer || m == EncodingModeFragmentMultiProducer
}

// Overhead bundles the per-mode byte-accounting constants from spec
// §4.6's "Space available for action" table.
type Overhead struct {
	PerAction       int
	PerFragment     int
	AtMostOneFragment bool
}

// OverheadFor returns the overhead constants for a given mode.
func OverheadFor(m EncodingMode) Overhead {
	switch m {
	case EncodingModeSingle:
		return Overhead{PerAction: 0, PerFragment: 0, AtMostOneFragment: true}
	case EncodingModeBatch:
		return Overhead{PerAction: 0, PerFragment: 4, AtMostOneFragment: false}
	case EncodingModeFragmentSingleProducer:
		return Overhead{PerAction: 5, PerFragment: 4, AtMostOneFragment: false}
	case EncodingModeFragmentMultiProducer:
		return Overhead{PerAction: 21, PerFragment: 4, AtMostOneFragment: false}
	default:
		return Overhead{}
	}
}

// Fragment framing flag bits, per spec §4.6/§6.
const (
	FlagContinueLastPackage byte = 0x01
	FlagContinueNextPackage byte = 0x02
)
