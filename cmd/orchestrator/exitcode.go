package main

import (
	"strings"

	"github.com/pairdev/orchestrator-core/errs"
)

// Exit codes per spec §6.
const (
	exitSuccess             = 0
	exitValidationFailure   = 1
	exitRecoveryExhausted   = 2
	exitFallbackUnavailable = 3
	exitConcurrencyTimeout  = 4
	exitIntegrityFailure    = 5
)

// exitCode maps an errs.Error's Kind (and, for the terminal kind, a
// message-shape heuristic) onto the exit codes named in spec §6.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	kind, ok := errs.KindOf(err)
	if !ok {
		return exitValidationFailure
	}
	switch kind {
	case errs.KindValidation, errs.KindUnsupported:
		return exitValidationFailure
	case errs.KindAdmission, errs.KindCancelled:
		return exitConcurrencyTimeout
	case errs.KindIntegrity:
		return exitIntegrityFailure
	case errs.KindTerminal:
		if strings.Contains(err.Error(), "fallback") {
			return exitFallbackUnavailable
		}
		return exitRecoveryExhausted
	default:
		return exitValidationFailure
	}
}
