package storage

import "fmt"

const envelopeVer = 1

// Envelope is a stored channel value together with its CAS version.
type Envelope struct {
	Ver     int    `json:"ver"`
	Value   []byte `json:"value"`
	Version uint64 `json:"version,omitempty"`
}

// SealValue wraps value into an Envelope at the given version.
func SealValue(value []byte, version uint64) *Envelope {
	return &Envelope{
		Ver:     envelopeVer,
		Value:   append([]byte(nil), value...),
		Version: version,
	}
}

// OpenValue returns the value held by envelope after checking its format.
func OpenValue(envelope *Envelope) ([]byte, error) {
	if envelope == nil {
		return nil, fmt.Errorf("nil envelope")
	}
	if envelope.Ver != envelopeVer {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	return envelope.Value, nil
}

// CloneEnvelope returns a deep copy of env.
func CloneEnvelope(env *Envelope) *Envelope {
	if env == nil {
		return nil
	}
	return &Envelope{
		Ver:     env.Ver,
		Value:   append([]byte(nil), env.Value...),
		Version: env.Version,
	}
}
