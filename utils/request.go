package utils

import (
	"encoding/json"
	"net/http"

	"marketplace-settlement/errors"
)

const maxBodyBytes = 1 << 20

// DecodeJSONRequest decodes JSON from HTTP request body into the provided interface.
// Usage: var data MyType; if err := DecodeJSONRequest(r, &data); err != nil { ... }
func DecodeJSONRequest(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.E(errors.Invalid, "invalid JSON body", err)
	}
	return nil
}

// DecodeAndValidate decodes the body and runs ValidateStruct on it.
func DecodeAndValidate(r *http.Request, v interface{}) error {
	if err := DecodeJSONRequest(r, v); err != nil {
		return err
	}
	return ValidateStruct(v)
}
