//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package epc encodes and decodes the identifier payloads written to a
// tag's user-programmable EPC bank. Encoding is pure and stateless: the
// same inputs always produce the same payload, and every payload is
// exactly 24 hex characters (96 bits) no matter which method produced it.
package epc

import (
	"fmt"
	"strings"
)

// Method selects how an identifier payload is laid out.
type Method string

const (
	// BasicWithFactorySuffix is a simple layout: a 2-character header,
	// the significant digits of the product reference, and the rightmost
	// 10 hex characters of the tag's factory ID. It is also the fallback
	// when another method is given parameters it cannot encode.
	BasicWithFactorySuffix Method = "BasicWithFactorySuffix"

	// StandardSerialized96 is a GS1 SGTIN-96 style layout with a
	// partitioned company-prefix/item-reference split and a 38-bit
	// serial derived from the factory ID.
	StandardSerialized96 Method = "StandardSerialized96"

	// CustomFormat is reserved. Encoding with it falls back to
	// BasicWithFactorySuffix.
	CustomFormat Method = "CustomFormat"
)

// PayloadHexLength is the fixed payload width in hex characters.
const PayloadHexLength = 24

// DefaultBasicHeader is the header used by BasicWithFactorySuffix when no
// override is supplied.
const DefaultBasicHeader = "B2"

// sgtinHeader is the 8-bit header of an SGTIN-96 payload.
const sgtinHeader = 0x30

const (
	normalizedRefDigits = 14
	payloadRefDigits    = 12 // GTIN-14 minus indicator and check digit
	factorySuffixLen    = 10
	serialBits          = 38
)

// Params carries the method-specific encoding knobs.
type Params struct {
	// BasicHeader overrides DefaultBasicHeader for BasicWithFactorySuffix.
	// Anything other than 2 hex characters is ignored.
	BasicHeader string

	// Filter is the SGTIN-96 filter value (0-7).
	Filter uint8

	// Partition selects the company-prefix/item-reference bit split (0-6).
	Partition uint8
}

// ValidationError reports input the codec refuses to encode at all. Only a
// missing factory ID or product reference produces one; every other
// malformed input falls back to BasicWithFactorySuffix instead.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// partitionEntry gives the bit widths and digit counts for one SGTIN-96
// partition value, per the GS1 Tag Data Standard table.
type partitionEntry struct {
	companyBits   uint
	companyDigits int
	itemBits      uint
	itemDigits    int
}

var partitionTable = [7]partitionEntry{
	{companyBits: 40, companyDigits: 12, itemBits: 4, itemDigits: 1},
	{companyBits: 37, companyDigits: 11, itemBits: 7, itemDigits: 2},
	{companyBits: 34, companyDigits: 10, itemBits: 10, itemDigits: 3},
	{companyBits: 30, companyDigits: 9, itemBits: 14, itemDigits: 4},
	{companyBits: 27, companyDigits: 8, itemBits: 17, itemDigits: 5},
	{companyBits: 24, companyDigits: 7, itemBits: 20, itemDigits: 6},
	{companyBits: 20, companyDigits: 6, itemBits: 24, itemDigits: 7},
}

// Encode produces the identifier payload for a tag. It returns the payload,
// the method actually used (which differs from the requested method when the
// codec fell back), and an error only for an empty factory ID or product
// reference. The payload is always exactly 24 hex characters.
func Encode(factoryID, productRef string, method Method, params Params) (payload string, used Method, err error) {
	if strings.TrimSpace(factoryID) == "" {
		return "", "", ValidationError{Field: "factoryId", Reason: "must not be empty"}
	}
	if strings.TrimSpace(productRef) == "" {
		return "", "", ValidationError{Field: "productReference", Reason: "must not be empty"}
	}

	if method == StandardSerialized96 {
		if payload, ok := encodeStandard96(factoryID, productRef, params); ok {
			return payload, StandardSerialized96, nil
		}
		// invalid digits, partition, or field overflow: fall back
	}

	return encodeBasic(factoryID, productRef, params), BasicWithFactorySuffix, nil
}

// Matches is the verification comparison: case-insensitive equality of the
// expected and observed payloads. No semantic re-decoding is involved.
func Matches(expected, observed string) bool {
	return expected != "" && strings.EqualFold(expected, observed)
}

func encodeBasic(factoryID, productRef string, params Params) string {
	header := strings.ToUpper(params.BasicHeader)
	if len(header) != 2 || !isHex(header) {
		header = DefaultBasicHeader
	}

	ref := normalizeProductRef(productRef)
	// Drop the indicator and check digit positions so the payload stays
	// 24 characters: header(2) + significant digits(12) + suffix(10).
	mid := ref[len(ref)-payloadRefDigits:]

	return header + mid + FactorySuffix(factoryID)
}

func encodeStandard96(factoryID, productRef string, params Params) (string, bool) {
	if !isDigits(productRef) {
		return "", false
	}
	if int(params.Partition) >= len(partitionTable) || params.Filter > 7 {
		return "", false
	}

	entry := partitionTable[params.Partition]
	ref := normalizeProductRef(productRef)

	// GTIN-14 layout: indicator digit, company prefix + item reference,
	// check digit. The indicator digit is prepended to the item
	// reference field, per SGTIN-96.
	indicator := ref[:1]
	company := ref[1 : 1+entry.companyDigits]
	item := indicator + ref[1+entry.companyDigits:normalizedRefDigits-1]
	if len(item) != entry.itemDigits {
		return "", false
	}

	companyVal, ok := parseDecimal(company)
	if !ok || companyVal >= uint64(1)<<entry.companyBits {
		return "", false
	}
	itemVal, ok := parseDecimal(item)
	if !ok || itemVal >= uint64(1)<<entry.itemBits {
		return "", false
	}

	var bits bitWriter
	bits.write(sgtinHeader, 8)
	bits.write(uint64(params.Filter), 3)
	bits.write(uint64(params.Partition), 3)
	bits.write(companyVal, entry.companyBits)
	bits.write(itemVal, entry.itemBits)
	bits.write(factorySerial(factoryID), serialBits)

	return bits.hexString(), true
}

// normalizeProductRef reduces a product reference to exactly 14 decimal
// digits: non-digit characters are discarded, shorter values are left-padded
// with zeros, and longer values keep the RIGHTMOST 14 digits (the low-order
// digits are the ones that vary per item).
func normalizeProductRef(ref string) string {
	var b strings.Builder
	for _, r := range ref {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) > normalizedRefDigits {
		return digits[len(digits)-normalizedRefDigits:]
	}
	return strings.Repeat("0", normalizedRefDigits-len(digits)) + digits
}

// FactorySuffix returns the rightmost 10 hex characters of the factory ID,
// left-padding to 10 first when the ID is shorter. Non-hex characters are
// discarded so the suffix is always valid payload material.
func FactorySuffix(factoryID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(factoryID) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	id := b.String()

	if len(id) < factorySuffixLen {
		id = strings.Repeat("0", factorySuffixLen-len(id)) + id
	}
	return id[len(id)-factorySuffixLen:]
}

// factorySerial derives the deterministic 38-bit SGTIN serial from the
// factory ID: the low 38 bits of its rightmost 10 hex characters.
func factorySerial(factoryID string) uint64 {
	var v uint64
	for _, r := range FactorySuffix(factoryID) {
		v <<= 4
		switch {
		case r >= '0' && r <= '9':
			v |= uint64(r - '0')
		case r >= 'A' && r <= 'F':
			v |= uint64(r-'A') + 10
		}
	}
	return v & (1<<serialBits - 1)
}

func parseDecimal(s string) (uint64, bool) {
	// strconv would accept signs and leading white space; field values
	// here are digit-only strings of at most 12 digits.
	var v uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		v = v*10 + uint64(r-'0')
	}
	return v, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// bitWriter accumulates a 96-bit payload most-significant bit first.
type bitWriter struct {
	bits []bool
}

func (w *bitWriter) write(v uint64, width uint) {
	for i := int(width) - 1; i >= 0; i-- {
		w.bits = append(w.bits, v&(uint64(1)<<uint(i)) != 0)
	}
}

func (w *bitWriter) hexString() string {
	var b strings.Builder
	for i := 0; i+4 <= len(w.bits); i += 4 {
		var nibble int
		for j := 0; j < 4; j++ {
			nibble <<= 1
			if w.bits[i+j] {
				nibble |= 1
			}
		}
		b.WriteByte("0123456789ABCDEF"[nibble])
	}
	return b.String()
}
