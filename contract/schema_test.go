package contract_test

import (
	"errors"
	"testing"

	"github.com/conduct-dev/conduct/contract"
)

const paymentSchema = `{
	"type": "object",
	"required": ["amount", "currency"],
	"properties": {
		"amount":   {"type": "integer", "minimum": 1},
		"currency": {"type": "string", "minLength": 3, "maxLength": 3}
	}
}`

func TestSchemaRegistry_ValidPayload(t *testing.T) {
	reg := contract.NewSchemaRegistry()
	if err := reg.Register("payments.charge", []byte(paymentSchema)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	payload := []byte(`{"amount": 1500, "currency": "EUR"}`)
	if err := reg.Validate("payments.charge", payload); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestSchemaRegistry_InvalidPayloadIsSchemaClass(t *testing.T) {
	reg := contract.NewSchemaRegistry()
	if err := reg.Register("payments.charge", []byte(paymentSchema)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cases := map[string][]byte{
		"missing field": []byte(`{"amount": 1500}`),
		"wrong type":    []byte(`{"amount": "lots", "currency": "EUR"}`),
		"not json":      []byte(`{{{`),
		"below minimum": []byte(`{"amount": 0, "currency": "EUR"}`),
	}
	for name, payload := range cases {
		err := reg.Validate("payments.charge", payload)
		if err == nil {
			t.Errorf("%s: Validate() = nil, want schema error", name)
			continue
		}
		var ce *contract.ClassifiedError
		if !errors.As(err, &ce) || ce.Class != contract.ClassSchema {
			t.Errorf("%s: Classify = %v, want %q", name, err, contract.ClassSchema)
		}
	}
}

func TestSchemaRegistry_UnregisteredTypeAcceptsAnything(t *testing.T) {
	reg := contract.NewSchemaRegistry()
	if err := reg.Validate("no.such.type", []byte(`{"whatever": true}`)); err != nil {
		t.Errorf("Validate() = %v, want nil for unregistered type", err)
	}
	if reg.Has("no.such.type") {
		t.Error("Has() = true for unregistered type")
	}
}

func TestSchemaRegistry_RejectsBadSchema(t *testing.T) {
	reg := contract.NewSchemaRegistry()
	if err := reg.Register("bad", []byte(`{"type": 42}`)); err == nil {
		t.Error("Register should reject an invalid schema document")
	}
}
