package ingest

import (
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/envelope"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/pkg/jsonenc"
)

// encodeRecord builds the storage representation of an admitted
// envelope. The writer flushes these verbatim to the bulk sink, so the
// encoding happens once, on the ingest path.
func encodeRecord(env *envelope.Envelope) []byte {
	b := jsonenc.New(len(env.Payload) + 160)
	b.BeginObject()
	b.String("tenant_id", env.TenantID)
	b.String("device_id", env.DeviceID)
	b.String("msg_type", env.MsgType)
	b.String("topic", env.Topic)
	b.Int64("ts", env.TS)
	b.RawJSON("payload", env.Payload)
	b.EndObject()

	out := make([]byte, len(b.Bytes()))
	copy(out, b.Bytes())
	return out
}
