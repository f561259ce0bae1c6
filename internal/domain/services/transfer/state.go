package transfer

import (
	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	domainerrors "github.com/rail-service/cctp_transfer/internal/domain/errors"
)

// allowedFrom lists the states each step may start from. Setup is absent from
// Burned and AttestationReceived so burned funds are not silently orphaned;
// Reset is the explicit way out of those.
var allowedFrom = map[entities.TransferStep][]entities.TransferState{
	entities.TransferStepSetup: {
		entities.TransferStateSetup,
		entities.TransferStateWalletCreated,
		entities.TransferStateApproved,
		entities.TransferStateMinted,
		entities.TransferStateAbandoned,
	},
	entities.TransferStepCreateWallet: {
		entities.TransferStateSetup,
		entities.TransferStateWalletCreated,
	},
	entities.TransferStepApprove:     {entities.TransferStateWalletCreated},
	entities.TransferStepBurn:        {entities.TransferStateApproved},
	entities.TransferStepAttestation: {entities.TransferStateBurned},
	entities.TransferStepMint:        {entities.TransferStateAttestationReceived},
}

// nextState is where a step leaves the session on success
var nextState = map[entities.TransferStep]entities.TransferState{
	entities.TransferStepSetup:        entities.TransferStateSetup,
	entities.TransferStepCreateWallet: entities.TransferStateWalletCreated,
	entities.TransferStepApprove:      entities.TransferStateApproved,
	entities.TransferStepBurn:         entities.TransferStateBurned,
	entities.TransferStepAttestation:  entities.TransferStateAttestationReceived,
	entities.TransferStepMint:         entities.TransferStateMinted,
}

// CanRun reports whether step may start from state
func CanRun(step entities.TransferStep, state entities.TransferState) bool {
	for _, s := range allowedFrom[step] {
		if s == state {
			return true
		}
	}
	return false
}

func checkState(step entities.TransferStep, sess *entities.TransferSession) error {
	if CanRun(step, sess.State) {
		return nil
	}
	allowed := make([]string, 0, len(allowedFrom[step]))
	for _, s := range allowedFrom[step] {
		allowed = append(allowed, string(s))
	}
	return domainerrors.PreconditionError(string(step), string(sess.State), allowed...)
}

func advance(step entities.TransferStep, sess *entities.TransferSession) {
	if next, ok := nextState[step]; ok {
		sess.State = next
	}
	sess.LastError = ""
	sess.Touch()
}
