package pipe

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Host-channel envelopes are CBOR with core deterministic encoding so the
// same frame always produces the same bytes on the wire.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("pipe: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("pipe: CBOR decoder initialization failed: " + err.Error())
	}
}

// Envelope is one message on a host channel. Frame holds the encoded frame
// so the channel can be inspected before the payload is decoded.
type Envelope struct {
	Channel string          `cbor:"channel"`
	Frame   cbor.RawMessage `cbor:"frame"`
}

func newEnvelope(channel string, frame any) (Envelope, error) {
	raw, err := encMode.Marshal(frame)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Channel: channel, Frame: raw}, nil
}
