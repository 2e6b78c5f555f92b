package lwm2m

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/farshidtz/senml/v2"
	"github.com/farshidtz/senml/v2/codec"
)

// Update is a single resource value change, as carried by the LwM2M Send
// operation and by async response payloads.
type Update struct {
	Path  Path
	Value Value
	Time  time.Time
}

// ToPack converts updates to a SenML pack with fully resolved names.
func ToPack(updates []Update) senml.Pack {
	pack := make(senml.Pack, 0, len(updates))
	for _, u := range updates {
		rec := senml.Record{Name: u.Path.String()}
		if !u.Time.IsZero() {
			rec.Time = float64(u.Time.UnixNano()) / 1e9
		}

		switch u.Value.Type() {
		case TypeString:
			rec.StringValue = u.Value.Str()
		case TypeInteger, TypeFloat:
			n, _ := u.Value.Number()
			rec.Value = &n
		case TypeBoolean:
			b := u.Value.Bool()
			rec.BoolValue = &b
		case TypeOpaque:
			rec.DataValue = base64.RawURLEncoding.EncodeToString(u.Value.Bytes())
		}
		pack = append(pack, rec)
	}
	return pack
}

// FromPack resolves base fields and converts each record to an Update.
// Numeric values decode as FLOAT; Registry.Put narrows them for INTEGER resources.
func FromPack(pack senml.Pack) ([]Update, error) {
	pack.Normalize()

	updates := make([]Update, 0, len(pack))
	for i, rec := range pack {
		p, err := ParsePath(rec.Name)
		if err != nil || !p.IsResource() {
			return nil, fmt.Errorf("%w: record %d name %q is not a resource path", ErrInvalidPayload, i, rec.Name)
		}

		var v Value
		switch {
		case rec.Value != nil:
			v = FloatValue(*rec.Value)
		case rec.BoolValue != nil:
			v = BooleanValue(*rec.BoolValue)
		case rec.DataValue != "":
			data, err := decodeDataValue(rec.DataValue)
			if err != nil {
				return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidPayload, i, err)
			}
			v = OpaqueValue(data)
		case rec.Sum != nil && rec.StringValue == "":
			return nil, fmt.Errorf("%w: record %d carries only a sum", ErrInvalidPayload, i)
		default:
			v = StringValue(rec.StringValue)
		}

		u := Update{Path: p, Value: v}
		if rec.Time != 0 {
			u.Time = time.Unix(0, int64(rec.Time*1e9))
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// MarshalUpdates encodes updates in the given CoAP content format.
func MarshalUpdates(updates []Update, contentFormat int) ([]byte, error) {
	pack := ToPack(updates)
	switch contentFormat {
	case ContentFormatSenMLJSON:
		return codec.EncodeJSON(pack)
	case ContentFormatSenMLCBOR:
		return codec.EncodeCBOR(pack)
	default:
		return nil, fmt.Errorf("%w: unsupported content format %d", ErrInvalidPayload, contentFormat)
	}
}

// UnmarshalUpdates decodes a SenML payload in the given CoAP content format.
func UnmarshalUpdates(payload []byte, contentFormat int) ([]Update, error) {
	var mediaType string
	switch contentFormat {
	case ContentFormatSenMLJSON:
		mediaType = senml.MediaTypeSenmlJSON
	case ContentFormatSenMLCBOR:
		mediaType = senml.MediaTypeSenmlCBOR
	default:
		return nil, fmt.Errorf("%w: unsupported content format %d", ErrInvalidPayload, contentFormat)
	}

	pack, err := codec.Decode(mediaType, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(pack) == 0 {
		return nil, fmt.Errorf("%w: empty pack", ErrInvalidPayload)
	}
	return FromPack(pack)
}

// decodeDataValue accepts the unpadded base64url form SenML mandates and the
// padded forms some devices send.
func decodeDataValue(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.StdEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("data value is not base64")
}
