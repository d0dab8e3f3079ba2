// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/blinklabs-io/gouroboros/cbor"

	"github.com/gerolabs/prise/chain"
)

// errMalformedDatum marks datums that do not decode to the expected shape.
// Classifiers log and skip; a bad datum is never fatal for the block.
var errMalformedDatum = errors.New("malformed pool datum")

// decodeDatum parses raw datum CBOR into a plutus constructor.
func decodeDatum(data []byte) (*cbor.Constructor, error) {
	var c cbor.Constructor
	if _, err := cbor.Decode(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedDatum, err)
	}
	return &c, nil
}

func fieldAt(c *cbor.Constructor, i int) (interface{}, error) {
	fields := c.Fields()
	if i >= len(fields) {
		return nil, fmt.Errorf("%w: field %d of %d", errMalformedDatum, i, len(fields))
	}
	return fields[i], nil
}

// fieldConstructor returns field i as a nested constructor.
func fieldConstructor(c *cbor.Constructor, i int) (*cbor.Constructor, error) {
	f, err := fieldAt(c, i)
	if err != nil {
		return nil, err
	}
	switch v := f.(type) {
	case cbor.Constructor:
		return &v, nil
	case *cbor.Constructor:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: field %d is %T, want constructor", errMalformedDatum, i, f)
	}
}

// fieldBytes returns field i as a byte string.
func fieldBytes(c *cbor.Constructor, i int) ([]byte, error) {
	f, err := fieldAt(c, i)
	if err != nil {
		return nil, err
	}
	switch v := f.(type) {
	case []byte:
		return v, nil
	case cbor.ByteString:
		return v.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: field %d is %T, want bytes", errMalformedDatum, i, f)
	}
}

// fieldInt returns field i as an int64, accepting the integer encodings the
// cbor decoder produces.
func fieldInt(c *cbor.Constructor, i int) (int64, error) {
	f, err := fieldAt(c, i)
	if err != nil {
		return 0, err
	}
	switch v := f.(type) {
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case *big.Int:
		if !v.IsInt64() {
			return 0, fmt.Errorf("%w: field %d out of int64 range", errMalformedDatum, i)
		}
		return v.Int64(), nil
	default:
		return 0, fmt.Errorf("%w: field %d is %T, want integer", errMalformedDatum, i, f)
	}
}

// assetClassUnit decodes a Constr[policyId, assetName] pair into the
// canonical asset unit; an empty policy and name is the native coin.
func assetClassUnit(c *cbor.Constructor) (string, error) {
	policy, err := fieldBytes(c, 0)
	if err != nil {
		return "", err
	}
	name, err := fieldBytes(c, 1)
	if err != nil {
		return "", err
	}
	if len(policy) == 0 && len(name) == 0 {
		return chain.LovelaceUnit, nil
	}
	return hex.EncodeToString(policy) + hex.EncodeToString(name), nil
}
