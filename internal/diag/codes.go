package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// IR loading
	IRInfo               Code = 1000
	IRLoadError          Code = 1001
	IRVersionUnsupported Code = 1002

	// IR contract: the checker assumes a well-formed IR but still names the
	// places where it is not.
	ContractInfo      Code = 2000
	UnknownBinding    Code = 2001
	UnknownOperation  Code = 2002
	SignatureMismatch Code = 2003

	// Ownership, borrowing and entanglement
	CheckInfo                 Code = 3000
	UseAfterMove              Code = 3001
	UseAfterConsume           Code = 3002
	DoubleConsume             Code = 3003
	ConflictingBorrow         Code = 3004
	UseWhileBorrowed          Code = 3005
	UnconsumedLinearResource  Code = 3006
	EntanglementViolation     Code = 3007
	IllegalSplit              Code = 3008
	NonUnitaryInPureContext   Code = 3009
	BranchConsumptionMismatch Code = 3010
	NoKnownInverse            Code = 3011
	UnresolvableAncilla       Code = 3012

	// Driver, config and IO
	IOInfo        Code = 4000
	IOReadError   Code = 4001
	IOCacheError  Code = 4002
	ConfigInvalid Code = 4003
)

var codeDescription = map[Code]string{
	UnknownCode:               "Unknown error",
	IRInfo:                    "IR information",
	IRLoadError:               "IR could not be decoded",
	IRVersionUnsupported:      "IR schema version is not supported",
	ContractInfo:              "IR contract information",
	UnknownBinding:            "Reference to an undeclared binding",
	UnknownOperation:          "Call to an undeclared operation or unit",
	SignatureMismatch:         "Operands do not match the declared signature",
	CheckInfo:                 "Checker information",
	UseAfterMove:              "Use of a moved binding",
	UseAfterConsume:           "Use of a consumed resource",
	DoubleConsume:             "Resource consumed twice",
	ConflictingBorrow:         "Borrow conflicts with an active borrow",
	UseWhileBorrowed:          "Resource used while borrowed",
	UnconsumedLinearResource:  "Linear resource not consumed before scope exit",
	EntanglementViolation:     "Partial use of an entangled class",
	IllegalSplit:              "Disentangling operation does not cover the whole class",
	NonUnitaryInPureContext:   "Observational operation in a reversible context",
	BranchConsumptionMismatch: "Branches leave a resource in different states",
	NoKnownInverse:            "Operation has no declared inverse",
	UnresolvableAncilla:       "Ancilla is entangled with an escaping resource",
	IOInfo:                    "IO information",
	IOReadError:               "File could not be read",
	IOCacheError:              "Result cache failure",
	ConfigInvalid:             "Invalid configuration",
}

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("QIR%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("QCT%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("QCK%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("QIO%04d", ic)
	}
	return "E0000"
}

// Name is the identifier used in JSON output and test expectations.
func (c Code) Name() string {
	if n, ok := codeName[c]; ok {
		return n
	}
	return "Unknown"
}

var codeName = map[Code]string{
	IRLoadError:               "IRLoadError",
	IRVersionUnsupported:      "IRVersionUnsupported",
	UnknownBinding:            "UnknownBinding",
	UnknownOperation:          "UnknownOperation",
	SignatureMismatch:         "SignatureMismatch",
	UseAfterMove:              "UseAfterMove",
	UseAfterConsume:           "UseAfterConsume",
	DoubleConsume:             "DoubleConsume",
	ConflictingBorrow:         "ConflictingBorrow",
	UseWhileBorrowed:          "UseWhileBorrowed",
	UnconsumedLinearResource:  "UnconsumedLinearResource",
	EntanglementViolation:     "EntanglementViolation",
	IllegalSplit:              "IllegalSplit",
	NonUnitaryInPureContext:   "NonUnitaryInPureContext",
	BranchConsumptionMismatch: "BranchConsumptionMismatch",
	NoKnownInverse:            "NoKnownInverse",
	UnresolvableAncilla:       "UnresolvableAncilla",
	IOReadError:               "IOReadError",
	IOCacheError:              "IOCacheError",
	ConfigInvalid:             "ConfigInvalid",
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[UnknownCode]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
