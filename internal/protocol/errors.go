package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrBadVersion      = "E_BAD_VERSION"

	// Call routing.
	ErrUnknownMethod = "E_UNKNOWN_METHOD"
	ErrBadParams     = "E_BAD_PARAMS"
	ErrUnknownPlan   = "E_UNKNOWN_PLAN"
	ErrUnsupported   = "E_UNSUPPORTED"

	// The simulator itself rejected the call.
	ErrSim      = "E_SIM"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadVersion:      {},
	ErrUnknownMethod:   {},
	ErrBadParams:       {},
	ErrUnknownPlan:     {},
	ErrUnsupported:     {},
	ErrSim:             {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
