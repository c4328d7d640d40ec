package wsbridge

import (
	"encoding/json"
	"fmt"

	"github.com/rrbotics/rrf/message"
)

// decodePayload applies the pull-mode data_type decoder (§4.7) to a binary
// frame read off the wire.
func decodePayload(dataType DataType, payload []byte) (any, error) {
	switch dataType {
	case DataJSON:
		var v any
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("wsbridge: invalid json payload: %w", err)
		}
		return v, nil
	case DataStr, DataString:
		return string(payload), nil
	case DataBytes, DataBinary, "":
		return payload, nil
	case DataRequest:
		return message.RequestFromBSON(payload)
	case DataBindRequest:
		return message.BindRequestFromBSON(payload)
	default:
		return nil, fmt.Errorf("wsbridge: unknown data_type %q", dataType)
	}
}
