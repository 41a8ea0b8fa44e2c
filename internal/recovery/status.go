package recovery

import "fmt"

// Status is the phase of a recovery attempt.
type Status int

const (
	StatusInitial Status = iota
	StatusNoConnectedAccount
	StatusNoSafeAccount
	StatusGasPaid
	StatusChangeRPC
	StatusPayGas
	StatusSwitchToHackedAccount
	StatusSignRecoveryTxs
	StatusSendBundle
	StatusListenBundle
	StatusSuccess
	StatusDonate
	StatusClearActivityData
)

var statusNames = []string{
	StatusInitial:               "INITIAL",
	StatusNoConnectedAccount:    "NO_CONNECTED_ACCOUNT",
	StatusNoSafeAccount:         "NO_SAFE_ACCOUNT",
	StatusGasPaid:               "GAS_PAID",
	StatusChangeRPC:             "CHANGE_RPC",
	StatusPayGas:                "PAY_GAS",
	StatusSwitchToHackedAccount: "SWITCH_TO_HACKED_ACCOUNT",
	StatusSignRecoveryTxs:       "SIGN_RECOVERY_TXS",
	StatusSendBundle:            "SEND_BUNDLE",
	StatusListenBundle:          "LISTEN_BUNDLE",
	StatusSuccess:               "SUCCESS",
	StatusDonate:                "DONATE",
	StatusClearActivityData:     "CLEAR_ACTIVITY_DATA",
}

var statusHints = []string{
	StatusInitial:               "Pick the assets to recover and start.",
	StatusNoConnectedAccount:    "Connect a wallet first.",
	StatusNoSafeAccount:         "Switch the wallet to the safe account to pay for gas.",
	StatusGasPaid:               "Gas is already paid for this attempt. Sign the recovery transactions or restart.",
	StatusChangeRPC:             "Add the recovery RPC to the wallet by hand, then confirm.",
	StatusPayGas:                "Send the funding transaction from the safe account.",
	StatusSwitchToHackedAccount: "Switch the wallet to the compromised account.",
	StatusSignRecoveryTxs:       "Sign each recovery transaction in order.",
	StatusSendBundle:            "Submit the signed bundle to the relay.",
	StatusListenBundle:          "Waiting for the bundle to land in a block.",
	StatusSuccess:               "Assets recovered.",
	StatusDonate:                "Optionally send a tip.",
	StatusClearActivityData:     "The compromised account nonce moved. Clear the wallet activity data and restart.",
}

func (s Status) valid() bool { return s >= StatusInitial && s <= StatusClearActivityData }

func (s Status) String() string {
	if !s.valid() {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Hint is the operator-facing tip for s.
func (s Status) Hint() string {
	if !s.valid() {
		return ""
	}
	return statusHints[s]
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	p, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = p
	return nil
}

// ParseStatus is the inverse of String. The empty string is INITIAL.
func ParseStatus(name string) (Status, error) {
	if name == "" {
		return StatusInitial, nil
	}
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return StatusInitial, fmt.Errorf("unknown status %q", name)
}

// transitions lists where each status may move next. Restart (to INITIAL)
// is allowed everywhere.
var transitions = map[Status][]Status{
	StatusInitial:               {StatusNoConnectedAccount, StatusGasPaid, StatusChangeRPC, StatusPayGas},
	StatusNoConnectedAccount:    {StatusNoConnectedAccount, StatusNoSafeAccount, StatusGasPaid, StatusChangeRPC, StatusPayGas, StatusSwitchToHackedAccount},
	StatusNoSafeAccount:         {StatusNoConnectedAccount, StatusNoSafeAccount, StatusSwitchToHackedAccount, StatusSignRecoveryTxs},
	StatusGasPaid:               {StatusGasPaid, StatusSwitchToHackedAccount, StatusSignRecoveryTxs},
	StatusChangeRPC:             {StatusPayGas},
	StatusPayGas:                {StatusNoConnectedAccount, StatusNoSafeAccount, StatusGasPaid, StatusSwitchToHackedAccount, StatusSignRecoveryTxs},
	StatusSwitchToHackedAccount: {StatusGasPaid, StatusSwitchToHackedAccount, StatusSignRecoveryTxs},
	StatusSignRecoveryTxs:       {StatusGasPaid, StatusSwitchToHackedAccount, StatusSignRecoveryTxs, StatusSendBundle},
	StatusSendBundle:            {StatusListenBundle},
	StatusListenBundle:          {StatusListenBundle, StatusSuccess, StatusClearActivityData},
	StatusSuccess:               {StatusDonate},
	StatusDonate:                {StatusDonate, StatusSuccess},
	StatusClearActivityData:     {},
}

// CanMoveTo reports whether next is a legal successor of s.
func (s Status) CanMoveTo(next Status) bool {
	if next == StatusInitial {
		return true
	}
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Terminal statuses end the poll loop.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusDonate || s == StatusClearActivityData
}
