package protocol

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// Condition is a wire fault code.
type Condition string

const (
	ConditionUnauthenticated      Condition = "unauthenticated"
	ConditionUnauthorized         Condition = "unauthorized"
	ConditionInvalidParameter     Condition = "invalid-parameter"
	ConditionInstanceNotFound     Condition = "instance-not-found"
	ConditionQuotaExceeded        Condition = "quota-exceeded"
	ConditionNoAvailableResources Condition = "no-available-resources"
	ConditionUnavailableProvider  Condition = "unavailable-provider"
	ConditionUnexpected           Condition = "unexpected"

	// ConditionUndefined carries any error outside the taxonomy.
	ConditionUndefined Condition = "undefined"
)

var kindToCondition = map[engine.ErrorKind]Condition{
	engine.KindUnauthenticated:      ConditionUnauthenticated,
	engine.KindUnauthorized:         ConditionUnauthorized,
	engine.KindInvalidParameter:     ConditionInvalidParameter,
	engine.KindInstanceNotFound:     ConditionInstanceNotFound,
	engine.KindQuotaExceeded:        ConditionQuotaExceeded,
	engine.KindNoAvailableResources: ConditionNoAvailableResources,
	engine.KindUnavailableProvider:  ConditionUnavailableProvider,
	engine.KindUnexpected:           ConditionUnexpected,
}

var conditionToKind = func() map[Condition]engine.ErrorKind {
	m := make(map[Condition]engine.ErrorKind, len(kindToCondition))
	for k, c := range kindToCondition {
		m[c] = k
	}
	return m
}()

// ConditionFor returns the wire condition of a kind.
func ConditionFor(kind engine.ErrorKind) Condition {
	if c, ok := kindToCondition[kind]; ok {
		return c
	}
	return ConditionUndefined
}

// UndefinedFaultError is what an undefined or unknown condition decodes to.
// It carries no taxonomy kind.
type UndefinedFaultError struct {
	Condition Condition
	Message   string
}

func (e *UndefinedFaultError) Error() string {
	return fmt.Sprintf("remote fault (%s): %s", e.Condition, e.Message)
}

// EncodeError maps an error to a fault. Only the message crosses the wire.
func EncodeError(err error) *Fault {
	if err == nil {
		return nil
	}
	var fe *engine.FedError
	if errors.As(err, &fe) {
		msg := fe.Message
		if fe.OrderID != "" {
			msg = fmt.Sprintf("%s (order=%s)", msg, fe.OrderID)
		}
		return &Fault{Condition: ConditionFor(fe.Kind), Message: msg}
	}
	return &Fault{Condition: ConditionUndefined, Message: err.Error()}
}

// DecodeFault rebuilds an error from a fault. A nil fault decodes to nil.
func DecodeFault(f *Fault) error {
	if f == nil {
		return nil
	}
	kind, ok := conditionToKind[f.Condition]
	if !ok {
		condition := f.Condition
		if condition == "" {
			condition = ConditionUndefined
		}
		return &UndefinedFaultError{Condition: condition, Message: f.Message}
	}
	return engine.NewError(kind, f.Message, nil)
}

// Translator encodes errors on the responding side and logs them by severity:
// taxonomy errors are expected outcomes, anything else is a fault.
type Translator struct {
	logger zerolog.Logger
}

// NewTranslator creates a translator.
func NewTranslator(logger zerolog.Logger) *Translator {
	return &Translator{logger: logger.With().Str("component", "translator").Logger()}
}

// Encode logs err and returns its fault.
func (t *Translator) Encode(op Operation, sender string, err error) *Fault {
	fault := EncodeError(err)
	if fault == nil {
		return nil
	}
	if fault.Condition == ConditionUndefined {
		t.logger.Error().Err(err).
			Str("operation", string(op)).
			Str("sender", sender).
			Msg("Unclassified error in federation request")
	} else {
		t.logger.Debug().Err(err).
			Str("operation", string(op)).
			Str("sender", sender).
			Str("condition", string(fault.Condition)).
			Msg("Federation request failed")
	}
	return fault
}
