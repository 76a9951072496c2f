package dispatch

// Config configures one place's dispatcher: its identity, the UDP socket
// its reactor binds, and the scheduling knobs of §6's ReactorSettings.
type Config struct {
	PlaceID string

	// ServiceName/Operation identify this place's own business service,
	// used both to invoke the business handler and to let upstream
	// places resolve this place as a destination (§4.4 step 8).
	ServiceName string
	Operation   string

	RuleBaseVersion string

	// ChannelID/BasePort/Remote position this place's reactor socket
	// (§4.2 "Socket binding", §6 "Port computation").
	ChannelID string
	BasePort  int
	Remote    bool

	// MaxQueue is MAXQUEUE (§6, default 5). Workers is the reactor's
	// worker-goroutine count (§6 "poolSize", default 2).
	MaxQueue int
	Workers  int

	// JoinBranches, when > 0, marks this place as a Join's T_in: the
	// dispatcher accumulates arrivals via a correlator.JoinAccumulator
	// before invoking its business handler (§4.5 "Join").
	JoinBranches int
}
