// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

// Package dsrecord decodes directory-service records printed by
// `dscl -plist . -read`.
package dsrecord

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"howett.net/plist"
)

// Attribute names used by user records
const (
	AttrRecordName        = "dsAttrTypeStandard:RecordName"
	AttrRealName          = "dsAttrTypeStandard:RealName"
	AttrUniqueID          = "dsAttrTypeStandard:UniqueID"
	AttrPrimaryGroupID    = "dsAttrTypeStandard:PrimaryGroupID"
	AttrGeneratedUID      = "dsAttrTypeStandard:GeneratedUID"
	AttrNFSHomeDirectory  = "dsAttrTypeStandard:NFSHomeDirectory"
	AttrUserShell         = "dsAttrTypeStandard:UserShell"
	AttrAccountPolicyData = "dsAttrTypeNative:accountPolicyData"
)

// ErrEmpty is returned when there is nothing to decode
var ErrEmpty = errors.New("empty property list")

// Record maps attribute names to their values
type Record map[string][]string

// Decode parses a property list (XML, binary or OpenStep) into a Record.
// Array values keep their string elements, scalar values become a
// single-element slice and anything else is skipped.
func Decode(data []byte) (Record, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrEmpty
	}

	var raw map[string]interface{}
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode property list: %w", err)
	}

	rec := make(Record, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case []interface{}:
			for _, item := range v {
				if s, ok := scalarString(item); ok {
					rec[key] = append(rec[key], s)
				}
			}
		default:
			if s, ok := scalarString(v); ok {
				rec[key] = []string{s}
			}
		}
	}
	return rec, nil
}

// First returns the first value of key
func (r Record) First(key string) (string, bool) {
	values := r[key]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Int parses the first value of key as a decimal integer
func (r Record) Int(key string) (int, error) {
	s, ok := r.First(key)
	if !ok {
		return 0, fmt.Errorf("attribute %s missing", key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", key, err)
	}
	return n, nil
}

// AccountPolicy holds the fields of accountPolicyData this tool reads
type AccountPolicy struct {
	Created         time.Time
	PasswordLastSet time.Time
	FailedLogins    int
}

// DecodeAccountPolicy parses the embedded accountPolicyData plist.
// Absent timestamps stay zero.
func DecodeAccountPolicy(data string) (AccountPolicy, error) {
	var raw map[string]interface{}
	if _, err := plist.Unmarshal([]byte(data), &raw); err != nil {
		return AccountPolicy{}, fmt.Errorf("failed to decode account policy: %w", err)
	}

	var p AccountPolicy
	if v, ok := toFloat(raw["creationTime"]); ok {
		p.Created = unixFloat(v)
	}
	if v, ok := toFloat(raw["passwordLastSetTime"]); ok {
		p.PasswordLastSet = unixFloat(v)
	}
	if v, ok := toFloat(raw["failedLoginCount"]); ok {
		p.FailedLogins = int(v)
	}
	return p, nil
}

func unixFloat(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func scalarString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case uint64, int64, float64, bool:
		return fmt.Sprint(s), true
	default:
		return "", false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
