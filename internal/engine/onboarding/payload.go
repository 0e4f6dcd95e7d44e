package onboarding

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
)

// Payload is sealed into the invitation token and stored, byte for byte, as
// the corroborating record.
type Payload struct {
	Email        string `cbor:"email"`
	InvitationID string `cbor:"invitationId"`
	DepartmentID string `cbor:"departmentId"`
	OrgID        string `cbor:"orgId"`
	IssuedAt     int64  `cbor:"issuedAt"`
}

var payloadDecMode = mustDecMode()

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

var errMalformedPayload = errors.New("onboarding: malformed payload")

func encodePayload(p Payload) ([]byte, error) {
	return cbor.Marshal(p)
}

// decodePayload rejects unknown fields and payloads missing any identifier.
func decodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := payloadDecMode.Unmarshal(raw, &p); err != nil {
		return Payload{}, errMalformedPayload
	}
	if p.Email == "" || p.InvitationID == "" || p.DepartmentID == "" || p.OrgID == "" || p.IssuedAt == 0 {
		return Payload{}, errMalformedPayload
	}
	return p, nil
}
