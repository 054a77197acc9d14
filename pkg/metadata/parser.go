// Package metadata parses the call recorder's filename convention into
// structured call metadata.
//
// Expected convention:
//
//	[LastName, FirstName]_AgentID-Phone_Timestamp(CallID).wav
//
// for example:
//
//	[Doe, Jane]_A1023-07700900123_20260812143005(CALL-9876).wav
package metadata

import (
	"regexp"
	"strings"
	"time"

	"callqa-server/pkg/errors"
	"callqa-server/pkg/models"
)

// filenamePattern captures, in order: last name, first name, agent id,
// phone number, timestamp, external call id.
var filenamePattern = regexp.MustCompile(`^\[([^,\]]+),\s*([^\]]+)\]_([^-_]+)-([0-9+]+)_([0-9]{14})\(([^)]+)\)\.(wav|WAV)$`)

// timestampLayout is the compact recorder timestamp, local time
const timestampLayout = "20060102150405"

// Parse extracts structured call metadata from an upload filename. It is
// total: any input that does not match the convention yields a typed
// parse failure, never a panic.
func Parse(filename string) (*models.CallMetadata, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return nil, errors.NewParseFailure(filename, "empty filename")
	}

	// Strip any path components a client may have left in
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}

	matches := filenamePattern.FindStringSubmatch(name)
	if matches == nil {
		return nil, errors.NewParseFailure(filename,
			"expected [LastName, FirstName]_AgentID-Phone_Timestamp(CallID).wav")
	}

	ts, err := time.ParseInLocation(timestampLayout, matches[5], time.Local)
	if err != nil {
		return nil, errors.NewParseFailure(filename, "timestamp is not YYYYMMDDHHMMSS")
	}

	return &models.CallMetadata{
		AgentName: matches[1] + ", " + matches[2],
		AgentID:   matches[3],
		Phone:     matches[4],
		CallID:    matches[6],
		Timestamp: ts,
	}, nil
}
