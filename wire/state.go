package wire

// State is a value of the state store
type State struct {
	Val    any    `json:"val"`
	Ack    bool   `json:"ack"`
	TS     int64  `json:"ts,omitempty"`
	LC     int64  `json:"lc,omitempty"`
	From   string `json:"from,omitempty"`
	Q      int    `json:"q,omitempty"`
	User   string `json:"user,omitempty"`
	Expire int64  `json:"expire,omitempty"`

	// Binary is filled in locally for binary state subscriptions
	Binary []byte `json:"-"`
}

// Clone returns a copy of the state
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	res := *s
	return &res
}
