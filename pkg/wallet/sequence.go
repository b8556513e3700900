package wallet

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SequenceStep is one transaction in an ordered dependent flow.
type SequenceStep struct {
	Label        string
	To           *common.Address
	Data         []byte
	Value        *big.Int
	GasLimitHint uint64
}

// StepResult records the confirmed outcome of one step.
type StepResult struct {
	Label string
	Nonce uint64
	Hash  common.Hash // reconciled hash, never the raw wallet value
}

// SequenceResult is the ordered record of a multi-step flow. Nonces of
// successive steps for the same sender are strictly increasing, and step
// N was only dispatched after step N-1 confirmed.
type SequenceResult struct {
	ID     string
	Sender common.Address
	Steps  []StepResult
}

// RunSequence executes dependent steps in order, for example the escrow
// funding flow create -> approve -> deposit. Each step's submission
// happens-after the previous step's confirmation; independent sequences
// for different senders carry no ordering between them.
//
// stepTimeout bounds each step's confirmation wait on top of ctx; zero
// means ctx alone bounds it. On failure the partial result is returned
// with the error so the caller can resume or abort; a TX_TIMEOUT leaves
// the in-flight nonce reserved for out-of-band polling (release it with
// Sequencer.Override to abandon the step).
func (s *Submitter) RunSequence(ctx context.Context, steps []SequenceStep, stepTimeout time.Duration) (*SequenceResult, error) {
	sender, err := s.router.Provider().Address()
	if err != nil {
		return nil, err
	}

	result := &SequenceResult{
		ID:     uuid.NewString(),
		Sender: sender,
		Steps:  make([]StepResult, 0, len(steps)),
	}

	s.log.WithFields(logrus.Fields{
		"sequence_id": result.ID,
		"address":     sender.Hex(),
		"steps":       len(steps),
	}).Info("Starting transaction sequence")

	for i, step := range steps {
		stepCtx := ctx
		cancel := func() {}
		if stepTimeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, stepTimeout)
		}

		pending, err := s.Submit(stepCtx, SubmitRequest{
			To:           step.To,
			Data:         step.Data,
			Value:        step.Value,
			GasLimitHint: step.GasLimitHint,
		})
		cancel()

		if err != nil {
			s.log.WithFields(logrus.Fields{
				"sequence_id": result.ID,
				"step":        step.Label,
				"error":       err,
			}).Error("Sequence step failed")
			return result, err
		}

		result.Steps = append(result.Steps, StepResult{
			Label: step.Label,
			Nonce: pending.Nonce,
			Hash:  *pending.ConfirmedHash,
		})

		s.log.WithFields(logrus.Fields{
			"sequence_id": result.ID,
			"step":        step.Label,
			"step_index":  i,
			"nonce":       pending.Nonce,
			"tx_hash":     pending.ConfirmedHash.Hex(),
		}).Info("Sequence step confirmed")
	}

	return result, nil
}
