//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package epc

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var payloadFormat = regexp.MustCompile(`^[0-9A-F]{24}$`)

func TestEncodeBasicThirteenDigitReference(t *testing.T) {
	// a 13-digit reference is treated as a 14-digit value with a leading zero
	factoryID := "E280116020123456789012"
	payload, used, err := Encode(factoryID, "7891033079360", BasicWithFactorySuffix, Params{})

	require.NoError(t, err)
	assert.Equal(t, BasicWithFactorySuffix, used)
	assert.Len(t, payload, PayloadHexLength)
	assert.Regexp(t, payloadFormat, payload)
	assert.True(t, strings.HasSuffix(payload, factoryID[len(factoryID)-10:]))
	assert.True(t, strings.HasPrefix(payload, DefaultBasicHeader))
}

func TestEncodeBasicLongReferenceKeepsRightmostDigits(t *testing.T) {
	factoryID := "E280119012345678AABB"

	long, _, err := Encode(factoryID, "990123456789012", BasicWithFactorySuffix, Params{})
	require.NoError(t, err)
	short, _, err := Encode(factoryID, "90123456789012", BasicWithFactorySuffix, Params{})
	require.NoError(t, err)

	// the 15-digit value keeps its rightmost 14 digits, so both encode alike
	assert.Equal(t, short, long)
	assert.Len(t, long, PayloadHexLength)
}

func TestEncodeBasicShortFactoryIDPadded(t *testing.T) {
	payload, _, err := Encode("ABC", "12345", BasicWithFactorySuffix, Params{})

	require.NoError(t, err)
	assert.Len(t, payload, PayloadHexLength)
	assert.True(t, strings.HasSuffix(payload, "0000000ABC"))
}

func TestEncodeBasicHeaderOverride(t *testing.T) {
	payload, _, err := Encode("E280119012345678AABB", "1", BasicWithFactorySuffix,
		Params{BasicHeader: "e2"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload, "E2"))

	// an unusable header falls back to the default
	payload, _, err = Encode("E280119012345678AABB", "1", BasicWithFactorySuffix,
		Params{BasicHeader: "XYZ"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload, DefaultBasicHeader))
}

func TestEncodeStandard96Layout(t *testing.T) {
	payload, used, err := Encode("E280119012345678AABB", "00012345678905", StandardSerialized96,
		Params{Filter: 1, Partition: 5})

	require.NoError(t, err)
	assert.Equal(t, StandardSerialized96, used)
	require.Len(t, payload, PayloadHexLength)
	assert.Regexp(t, payloadFormat, payload)

	// 8-bit SGTIN header occupies the first two hex characters
	assert.Equal(t, "30", payload[:2])

	// filter 1, partition 5: next 6 bits are 001 101
	assert.Equal(t, byte('3'), payload[2])
}

func TestEncodeStandard96SerialDeterministic(t *testing.T) {
	p1, _, err := Encode("E280119012345678AABB", "00012345678905", StandardSerialized96,
		Params{Partition: 5})
	require.NoError(t, err)
	p2, _, err := Encode("E280119012345678AABB", "00012345678905", StandardSerialized96,
		Params{Partition: 5})
	require.NoError(t, err)
	p3, _, err := Encode("E280119012345678AACC", "00012345678905", StandardSerialized96,
		Params{Partition: 5})
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.NotEqual(t, p1, p3, "distinct factory IDs must yield distinct serials")
}

func TestEncodeStandard96FallsBack(t *testing.T) {
	factoryID := "E280119012345678AABB"

	for _, tc := range []struct {
		name       string
		productRef string
		params     Params
	}{
		{"non-numeric reference", "REF-12345", Params{Partition: 2}},
		{"invalid partition", "00012345678905", Params{Partition: 9}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			payload, used, err := Encode(factoryID, tc.productRef, StandardSerialized96, tc.params)

			require.NoError(t, err)
			assert.Equal(t, BasicWithFactorySuffix, used)
			assert.Len(t, payload, PayloadHexLength)
			assert.True(t, strings.HasSuffix(payload, factoryID[len(factoryID)-10:]),
				"fallback payload must keep the factory-suffix property")
		})
	}
}

func TestEncodeCustomFormatFallsBack(t *testing.T) {
	payload, used, err := Encode("E280119012345678AABB", "123", CustomFormat, Params{})

	require.NoError(t, err)
	assert.Equal(t, BasicWithFactorySuffix, used)
	assert.Len(t, payload, PayloadHexLength)
}

func TestEncodeValidation(t *testing.T) {
	_, _, err := Encode("", "123", BasicWithFactorySuffix, Params{})
	var vErr ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "factoryId", vErr.Field)

	_, _, err = Encode("E280119012345678AABB", "  ", BasicWithFactorySuffix, Params{})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "productReference", vErr.Field)
}

func TestEncodeLengthProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		factoryID := rapid.StringMatching(`[0-9a-fA-F]{1,32}`).Draw(t, "factoryID")
		productRef := rapid.StringMatching(`[0-9A-Z\-]{1,20}`).Draw(t, "productRef")
		method := rapid.SampledFrom([]Method{
			BasicWithFactorySuffix, StandardSerialized96, CustomFormat,
		}).Draw(t, "method")
		params := Params{
			Filter:    uint8(rapid.IntRange(0, 7).Draw(t, "filter")),
			Partition: uint8(rapid.IntRange(0, 8).Draw(t, "partition")),
		}

		payload, _, err := Encode(factoryID, productRef, method, params)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !payloadFormat.MatchString(payload) {
			t.Fatalf("payload %q is not 24 uppercase hex characters", payload)
		}
	})
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("ABCDEF", "abcdef"))
	assert.True(t, Matches("30741DD6AC42C21D00000ABC", "30741dd6ac42c21d00000abc"))
	assert.False(t, Matches("ABCDEF", "ABCDE0"))
	assert.False(t, Matches("", ""))
}

func TestNormalizeProductRef(t *testing.T) {
	assert.Equal(t, "07891033079360", normalizeProductRef("7891033079360"))
	assert.Equal(t, "00000000000001", normalizeProductRef("1"))
	assert.Equal(t, "23456789012345", normalizeProductRef("123456789012345"))
	assert.Equal(t, "00007891033079", normalizeProductRef("REF-7891033079"))
}

func TestFactorySuffix(t *testing.T) {
	assert.Equal(t, "345678AABB", FactorySuffix("E280119012345678AABB"))
	assert.Equal(t, "345678aabb", strings.ToLower(FactorySuffix("e280119012345678aabb")))
	assert.Equal(t, "0000000ABC", FactorySuffix("abc"))
}
