package recovery

import "errors"

var (
	// user input, rejected without a transition
	ErrInvalidAddress = errors.New("invalid or identical safe and compromised addresses")
	ErrNoIntents      = errors.New("no assets selected")
	ErrDelegated      = errors.New("compromised account carries an EIP-7702 delegation")

	// readiness
	ErrNotConnected   = errors.New("no wallet connected")
	ErrWrongAccount   = errors.New("connected account is not the expected one")
	ErrGasAlreadyPaid = errors.New("gas already paid for this attempt")
	ErrGasNotCovered  = errors.New("gas not paid yet")
	ErrManualNetwork  = errors.New("recovery RPC must be added manually")

	ErrWrongState = errors.New("operation not allowed in current status")
	ErrBusy       = errors.New("another operation is in progress")

	// relay
	ErrBundleReverted = errors.New("bundle reverted")
	ErrNonceTooHigh   = errors.New("account nonce too high")
	ErrUnexpected     = errors.New("unexpected relay outcome")
	ErrPollTimeout    = errors.New("bundle not included within the poll limit")

	ErrNoDonationAddress = errors.New("no donation address configured")
)
