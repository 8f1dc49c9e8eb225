// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the dispatcher's standard CBOR configuration.
//
// The dispatcher uses two serialization formats with a clear boundary:
//
//   - JSON (with comments, see lib/jobdef) for job definitions and
//     device-facing interfaces: files humans author and submit.
//   - CBOR for result bundles written at the end of a job: binary
//     attachments (console transcripts, kernel logs) embed without
//     base64 inflation, and deterministic encoding means a bundle's
//     digest identifies its content.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Same logical data always produces identical bytes.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding. Same logical data always produces identical bytes, so
// bundle digests are stable across dispatcher runs.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are ignored for forward compatibility with bundles
// written by newer dispatchers.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// When the decoder's target is any (attachment metadata and
		// other open-ended values), it must pick a concrete Go map
		// type. The CBOR default is map[interface{}]interface{}
		// because CBOR allows non-string keys, but bundles only ever
		// use string keys and downstream code expects map[string]any.
		// Struct field decoding is unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for the
// entire contents of data. Used by bundle inspection tooling.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
