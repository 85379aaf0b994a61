package check

import "fmt"

// Text decoding for the enums that annotations serialise by name, so cached
// and re-read results round-trip.

func parseName[T ~uint8](names []string, text []byte, what string) (T, error) {
	for i, name := range names {
		if name == string(text) {
			return T(i), nil // #nosec G115 -- name tables are tiny
		}
	}
	return 0, fmt.Errorf("unknown %s %q", what, text)
}

func (s *ResourceStatus) UnmarshalText(text []byte) error {
	v, err := parseName[ResourceStatus](statusNames[:], text, "resource status")
	*s = v
	return err
}

func (o *Origin) UnmarshalText(text []byte) error {
	v, err := parseName[Origin](originNames[:], text, "origin")
	*o = v
	return err
}

func (k *EventKind) UnmarshalText(text []byte) error {
	v, err := parseName[EventKind](eventKindNames[:], text, "event kind")
	*k = v
	return err
}

func (k *StepKind) UnmarshalText(text []byte) error {
	v, err := parseName[StepKind]([]string{"apply", "if", "repeat"}, text, "step kind")
	*k = v
	return err
}

func (r *Reversibility) UnmarshalText(text []byte) error {
	v, err := parseName[Reversibility]([]string{"unitary", "observational"}, text, "reversibility")
	*r = v
	return err
}
