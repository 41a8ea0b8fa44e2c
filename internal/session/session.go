// Package session persists the state of one recovery attempt.
package session

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/wallet-recovery/internal/gas"
	"github.com/ligun0805/wallet-recovery/internal/intent"
)

// Session is everything a reload needs to continue from the last clean phase.
type Session struct {
	SafeAddress   common.Address `json:"safeAddress"`
	HackedAddress common.Address `json:"hackedAddress"`
	Intents       intent.List    `json:"intents"`

	Status      string                    `json:"status"`
	BundleID    string                    `json:"bundleId,omitempty"`
	UnsignedTxs []gas.SignableTransaction `json:"unsignedTxs,omitempty"`
	BaseFee     string                    `json:"baseFee,omitempty"`

	GasCovered     bool        `json:"gasCovered"`
	SentTxHash     common.Hash `json:"sentTxHash"`
	SentBlock      uint64      `json:"sentBlock"`
	AttemptedBlock uint64      `json:"attemptedBlock"`

	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key identifies the session of a compromised account.
func (s *Session) Key() string { return Key(s.HackedAddress) }

func Key(hacked common.Address) string { return hacked.Hex() }

// Reset drops the in-flight attempt and keeps the account pair and the selected assets.
func (s *Session) Reset() {
	s.BundleID = ""
	s.UnsignedTxs = nil
	s.BaseFee = ""
	s.GasCovered = false
	s.SentTxHash = common.Hash{}
	s.SentBlock = 0
	s.AttemptedBlock = 0
}

// Clone returns a deep enough copy for read-only snapshots.
func (s *Session) Clone() *Session {
	c := *s
	c.Intents = append(intent.List(nil), s.Intents...)
	c.UnsignedTxs = append([]gas.SignableTransaction(nil), s.UnsignedTxs...)
	return &c
}
