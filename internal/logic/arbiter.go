package logic

import "fmt"

// Action is what the control loop should do in response to a remote command.
type Action string

const (
	ActionNone     Action = "NONE"
	ActionPowerOn  Action = "POWER_ON"
	ActionPowerOff Action = "POWER_OFF"
	ActionAccept   Action = "ACCEPT"
	ActionDeny     Action = "DENY"
)

// CommandSet is the recognized remote vocabulary.
type CommandSet struct {
	Accept  byte
	Deny1   byte
	Deny2   byte
	Power   byte
	Address byte
}

// Known command profiles. The two amplifier board revisions swap the accept
// and second deny codes.
var (
	ProfileAmplifier = CommandSet{
		Accept:  0x43,
		Deny1:   0x40,
		Deny2:   0x44,
		Power:   0x46,
		Address: 0x00,
	}
	ProfileAmplifierLegacy = CommandSet{
		Accept:  0x44,
		Deny1:   0x40,
		Deny2:   0x43,
		Power:   0x46,
		Address: 0x00,
	}
)

// Profiles maps profile names to command sets.
var Profiles = map[string]CommandSet{
	"amplifier":        ProfileAmplifier,
	"amplifier-legacy": ProfileAmplifierLegacy,
}

// Validate rejects command sets where one code would mean two things.
func (c CommandSet) Validate() error {
	codes := map[byte]string{}
	for _, kv := range []struct {
		name string
		code byte
	}{
		{"accept", c.Accept},
		{"deny1", c.Deny1},
		{"deny2", c.Deny2},
		{"power", c.Power},
	} {
		if prev, ok := codes[kv.code]; ok && !(kv.name == "deny2" && prev == "deny1") {
			return &ConfigError{Field: "ir.codes." + kv.name, Reason: fmt.Sprintf("0x%02X already used by %s", kv.code, prev)}
		}
		codes[kv.code] = kv.name
	}
	return nil
}

// Arbiter validates remote commands against the command set and the
// thermal admissibility.
type Arbiter struct {
	codes CommandSet
}

// NewArbiter creates an arbiter for the given command set.
func NewArbiter(codes CommandSet) *Arbiter {
	return &Arbiter{codes: codes}
}

// Arbitrate decides the action for an optional pending command.
// Rejected commands return ActionNone with ErrUnknownSource or
// ErrUnrecognizedCommand so the caller can log them.
func (a *Arbiter) Arbitrate(cmd *RemoteCommand, admissible, powered bool) (Action, error) {
	if cmd == nil {
		return ActionNone, nil
	}
	if cmd.Address != a.codes.Address {
		return ActionNone, fmt.Errorf("%w: 0x%02X", ErrUnknownSource, cmd.Address)
	}

	switch cmd.Command {
	case a.codes.Deny1, a.codes.Deny2:
		return ActionDeny, nil
	case a.codes.Power:
		if powered {
			return ActionPowerOff, nil
		}
		if !admissible {
			return ActionDeny, nil
		}
		return ActionPowerOn, nil
	case a.codes.Accept:
		return ActionAccept, nil
	}
	return ActionNone, fmt.Errorf("%w: 0x%02X", ErrUnrecognizedCommand, cmd.Command)
}
