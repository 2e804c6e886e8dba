package core

import (
	json "github.com/goccy/go-json"

	"github.com/strataio/strata/pkg/strataerrors"
)

// MarshalPosition serializes a position value for external persistence.
// Positions are plain values by contract, so round-tripping through JSON is
// lossless.
func MarshalPosition(pos interface{}) ([]byte, error) {
	data, err := json.Marshal(pos)
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.KindInvalidInput, "failed to serialize position")
	}
	return data, nil
}

// UnmarshalPosition restores a position previously serialized with
// MarshalPosition.
func UnmarshalPosition(data []byte, pos interface{}) error {
	if err := json.Unmarshal(data, pos); err != nil {
		return strataerrors.Wrap(err, strataerrors.KindInvalidInput, "failed to deserialize position")
	}
	return nil
}
