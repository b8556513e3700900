package wallet

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Sequencer issues strictly increasing nonces per sender and refuses to
// issue the next one until the previous transaction reached a terminal
// state. Dependent transactions dispatched concurrently against the same
// sender produce "replacement transaction underpriced" failures because
// wallets queue by nonce, not by causal dependency; the sequencer turns
// that race into an explicit reserve/complete protocol.
//
// State is process-lifetime and in-memory, refreshed from the
// network-reported next nonce whenever no sequence is in flight.
type Sequencer struct {
	mu      sync.Mutex
	senders map[common.Address]*senderSequence
	log     *logrus.Logger
}

type senderSequence struct {
	next     uint64  // next nonce to hand out
	inFlight *uint64 // reserved nonce not yet completed
	primed   bool    // next was taken from the network or a confirmation
}

// NewSequencer creates an empty sequencer.
func NewSequencer(log *logrus.Logger) *Sequencer {
	return &Sequencer{
		senders: make(map[common.Address]*senderSequence),
		log:     log,
	}
}

// Reserve returns the next nonce for sender. The first reservation (and
// any reservation after a failure) queries the trusted reader's pending
// nonce; later ones continue the local sequence. Reserving while a prior
// nonce is still in flight fails with PENDING_TRANSACTION; callers wait
// for Complete or use Override after a timeout.
func (s *Sequencer) Reserve(ctx context.Context, reader ChainReader, sender common.Address) (uint64, error) {
	for {
		s.mu.Lock()
		seq := s.sequenceLocked(sender)
		if seq.inFlight != nil {
			s.mu.Unlock()
			return 0, NewWalletError(ErrCodePendingTransaction, "previous transaction for sender not terminal yet", nil, "")
		}
		if seq.primed {
			nonce := seq.next
			seq.inFlight = &nonce
			s.mu.Unlock()

			s.log.WithFields(logrus.Fields{
				"address": sender.Hex(),
				"nonce":   nonce,
			}).Debug("Reserved nonce")
			return nonce, nil
		}
		s.mu.Unlock()

		// Lock released around the network call.
		next, err := reader.PendingNonceAt(ctx, sender)
		if err != nil {
			return 0, NewWalletError(ErrCodeRPCError, "failed to query next nonce", err, "")
		}

		s.mu.Lock()
		seq = s.sequenceLocked(sender)
		// A concurrent reservation may have primed and advanced the
		// sequence while the lock was released; its view wins over the
		// possibly stale network answer.
		if !seq.primed {
			seq.next = next
			seq.primed = true
		}
		s.mu.Unlock()
	}
}

// sequenceLocked returns the sender's sequence, creating it when absent.
// Callers hold s.mu.
func (s *Sequencer) sequenceLocked(sender common.Address) *senderSequence {
	seq, ok := s.senders[sender]
	if !ok {
		seq = &senderSequence{}
		s.senders[sender] = seq
	}
	return seq
}

// Complete marks the reserved nonce terminal. A confirmed nonce advances
// the sequence to nonce+1; a failed one drops the local state entirely so
// the next reservation re-queries the network (the nonce may or may not
// have been consumed on chain).
func (s *Sequencer) Complete(sender common.Address, nonce uint64, confirmed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.senders[sender]
	if !ok {
		return
	}

	if confirmed {
		seq.next = nonce + 1
		seq.inFlight = nil
		return
	}
	delete(s.senders, sender)
}

// Override releases sender's in-flight reservation without a terminal
// state. This is the explicit caller escape hatch after a confirmation
// timeout; the next reservation re-queries the network.
func (s *Sequencer) Override(sender common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.senders, sender)
}
