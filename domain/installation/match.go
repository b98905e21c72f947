// Package installation implements the device-record matching rules used
// when writing _Installation objects. Three keys identify an installation
// (objectId, installationId, deviceToken) and each may match a different
// existing record; this package classifies the matches and decides how the
// write proceeds. All functions are pure.
package installation

import (
	"strings"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
)

// Keys are the identifying values carried by an installation write after
// normalization.
type Keys struct {
	ObjectID       string // set on explicit updates
	InstallationID string
	DeviceToken    string
	DeviceType     string
	AppIdentifier  string
}

// Normalize lowercases the installation id and, for 64-character tokens,
// the device token. Returns the normalized copies.
func Normalize(installationID, deviceToken string) (string, string) {
	installationID = strings.ToLower(installationID)
	if len(deviceToken) == 64 {
		deviceToken = strings.ToLower(deviceToken)
	}
	return installationID, deviceToken
}

// Matches classifies existing records against each identifying key.
type Matches struct {
	ByObjectID       object.Map
	ByInstallationID object.Map
	ByDeviceToken    []object.Map
}

// Classify sorts the records returned by the disjunctive lookup into the
// per-key buckets. A record may land in several buckets.
func Classify(records []object.Map, keys Keys) Matches {
	var m Matches
	for _, rec := range records {
		if keys.ObjectID != "" && object.String(rec, "objectId") == keys.ObjectID {
			m.ByObjectID = rec
		}
		if keys.InstallationID != "" && object.String(rec, "installationId") == keys.InstallationID {
			m.ByInstallationID = rec
		}
		if keys.DeviceToken != "" && object.String(rec, "deviceToken") == keys.DeviceToken {
			m.ByDeviceToken = append(m.ByDeviceToken, rec)
		}
	}
	return m
}

// Plan is the resolved course of action for the write.
type Plan struct {
	// TargetID redirects the write to an existing record when non-empty,
	// turning a create into an update.
	TargetID string
	// DeleteStale requests removal of other records sharing the device
	// token before the write proceeds.
	DeleteStale bool
}

// Resolve applies the matching state machine and returns the plan, or the
// error that must abort the write.
func Resolve(m Matches, keys Keys) (Plan, error) {
	if keys.ObjectID != "" {
		return resolveExplicitUpdate(m, keys)
	}

	// No identity match at all: plain create.
	if m.ByInstallationID == nil && len(m.ByDeviceToken) == 0 {
		return Plan{}, nil
	}

	// A single device-token match with no installation id on either side
	// is the same device re-registering: adopt it.
	if keys.InstallationID == "" {
		if len(m.ByDeviceToken) == 1 && object.String(m.ByDeviceToken[0], "installationId") == "" {
			return Plan{TargetID: object.String(m.ByDeviceToken[0], "objectId")}, nil
		}
		if len(m.ByDeviceToken) > 1 {
			return Plan{}, apierr.New(apierr.CodeValidationError,
				"Must specify installationId when deviceToken matches multiple Installation objects")
		}
	}

	plan := Plan{DeleteStale: keys.DeviceToken != ""}
	if m.ByInstallationID != nil {
		plan.TargetID = object.String(m.ByInstallationID, "objectId")
	}
	return plan, nil
}

func resolveExplicitUpdate(m Matches, keys Keys) (Plan, error) {
	if m.ByObjectID == nil {
		return Plan{}, apierr.New(apierr.CodeObjectNotFound, "Object not found for update.")
	}
	existing := m.ByObjectID
	if conflicts(keys.InstallationID, object.String(existing, "installationId")) {
		return Plan{}, apierr.New(apierr.CodeValidationError,
			"installationId may not be changed in this operation")
	}
	if conflicts(keys.DeviceToken, object.String(existing, "deviceToken")) &&
		keys.InstallationID == "" && object.String(existing, "installationId") == "" {
		return Plan{}, apierr.New(apierr.CodeValidationError,
			"deviceToken may not be changed in this operation")
	}
	if conflicts(keys.DeviceType, object.String(existing, "deviceType")) {
		return Plan{}, apierr.New(apierr.CodeValidationError,
			"deviceType may not be changed in this operation")
	}
	return Plan{TargetID: keys.ObjectID, DeleteStale: keys.DeviceToken != ""}, nil
}

// conflicts reports whether both values are set and disagree.
func conflicts(incoming, existing string) bool {
	return incoming != "" && existing != "" && incoming != existing
}

// StaleFilter builds the filter selecting obsolete records that share the
// device token: everything with the token except the record being kept,
// scoped to the app identifier when one is known.
func StaleFilter(keys Keys, preserveID string) object.Filter {
	f := object.Filter{}.Eq("deviceToken", keys.DeviceToken)
	if preserveID != "" {
		f = f.Ne("objectId", preserveID)
	}
	if keys.InstallationID != "" {
		f = f.Ne("installationId", keys.InstallationID)
	}
	if keys.AppIdentifier != "" {
		f = f.Eq("appIdentifier", keys.AppIdentifier)
	}
	return f
}
