// Package relay submits recovery bundles to a relay and resolves whether they
// made it into a block.
package relay

import (
	"fmt"
	"strings"
)

// Outcome classifies one submission.
type Outcome int

const (
	OutcomeUnexpected Outcome = iota
	OutcomeIncluded
	OutcomeBlockPassedWithoutInclusion
	OutcomeAccountNonceTooHigh
	OutcomeReverted
)

var outcomeNames = map[Outcome]string{
	OutcomeUnexpected:                  "unexpected",
	OutcomeIncluded:                    "included",
	OutcomeBlockPassedWithoutInclusion: "blockPassedWithoutInclusion",
	OutcomeAccountNonceTooHigh:         "accountNonceTooHigh",
	OutcomeReverted:                    "reverted",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	for k, v := range outcomeNames {
		if v == string(b) {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Fatal reports whether the outcome ends the recovery attempt.
func (o Outcome) Fatal() bool {
	return o != OutcomeIncluded && o != OutcomeBlockPassedWithoutInclusion
}

const (
	RevertedPrefix     = "Bundle reverted with error"
	MsgBlockPassed     = "BlockPassedWithoutInclusion."
	MsgNonceTooHigh    = "Bundle submitted but reverted because account nonce is too high. Clear activity data and start all over again."
	MsgUnexpectedState = "Unexpected state"
	BadBundleReason    = "Bad bundle"
)

// Response is the body of POST /relay.
type Response struct {
	Success          bool    `json:"success"`
	Response         string  `json:"response"`
	SimulationResult any     `json:"simulationResult,omitempty"`
	Outcome          Outcome `json:"outcome"`
}

// Classify resolves the outcome of a response. The structured field wins;
// responses without it fall back to the message text.
func (r Response) Classify() Outcome {
	if r.Outcome != OutcomeUnexpected {
		return r.Outcome
	}
	switch {
	case r.Success:
		return OutcomeIncluded
	case strings.Contains(strings.ToLower(r.Response), "nonce too high"),
		strings.Contains(strings.ToLower(r.Response), "nonce is too high"):
		return OutcomeAccountNonceTooHigh
	case strings.Contains(r.Response, RevertedPrefix):
		return OutcomeReverted
	case strings.Contains(r.Response, "BlockPassedWithoutInclusion"):
		return OutcomeBlockPassedWithoutInclusion
	}
	return OutcomeUnexpected
}

func included(block uint64, sim any) Response {
	return Response{
		Success:          true,
		Response:         fmt.Sprintf("Bundle successfully included in block number %d!!", block),
		SimulationResult: sim,
		Outcome:          OutcomeIncluded,
	}
}

func reverted(msg string) Response {
	return Response{Response: RevertedPrefix + ": " + msg, Outcome: OutcomeReverted}
}
