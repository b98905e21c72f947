package app

import (
	"context"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/installation"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// handleInstallation deduplicates _Installation writes. Three independent
// keys may each match a different existing record; the resolved plan may
// redirect the write to an existing record and delete stale ones.
func (s *WriteService) handleInstallation(ctx context.Context, c *writeContext) error {
	if c.className != ClassInstallation {
		return nil
	}

	keys, err := s.installationKeys(c)
	if err != nil {
		return err
	}

	matches, err := s.findInstallations(ctx, keys)
	if err != nil {
		return err
	}

	plan, err := installation.Resolve(installation.Classify(matches, keys), keys)
	if err != nil {
		return err
	}

	if plan.DeleteStale {
		if err := s.destroyStaleInstallations(ctx, keys, plan.TargetID); err != nil {
			return err
		}
	}

	if plan.TargetID != "" && plan.TargetID != keys.ObjectID {
		// Redirect the write: the create becomes an update of the
		// matched record.
		redirected := object.ByID(plan.TargetID)
		c.query = &redirected
		delete(c.data, "objectId")
		delete(c.data, "createdAt")
	}
	return nil
}

// installationKeys normalizes and validates the identifying values of the
// write.
func (s *WriteService) installationKeys(c *writeContext) (installation.Keys, error) {
	installationID := object.String(c.data, "installationId")
	if installationID == "" && !c.isUpdate() {
		installationID = c.auth.InstallationID
	}
	installationID, deviceToken := installation.Normalize(installationID, object.String(c.data, "deviceToken"))

	if installationID != "" {
		c.data["installationId"] = installationID
	}
	if deviceToken != "" {
		c.data["deviceToken"] = deviceToken
	}

	keys := installation.Keys{
		InstallationID: installationID,
		DeviceToken:    deviceToken,
		DeviceType:     object.String(c.data, "deviceType"),
		AppIdentifier:  object.String(c.data, "appIdentifier"),
	}
	if c.isUpdate() {
		id, ok := c.query.ID()
		if !ok {
			return keys, apierr.ErrMissingObjectID
		}
		keys.ObjectID = id
	}

	if keys.DeviceToken == "" && keys.InstallationID == "" {
		return keys, apierr.New(apierr.CodeValidationError,
			"at least one ID field (deviceToken, installationId) must be specified in this operation")
	}
	return keys, nil
}

// findInstallations runs the disjunctive lookup over all identifying keys.
func (s *WriteService) findInstallations(ctx context.Context, keys installation.Keys) ([]object.Map, error) {
	var branches []object.Filter
	if keys.ObjectID != "" {
		branches = append(branches, object.ByID(keys.ObjectID))
	}
	if keys.InstallationID != "" {
		branches = append(branches, object.Filter{}.Eq("installationId", keys.InstallationID))
	}
	if keys.DeviceToken != "" {
		branches = append(branches, object.Filter{}.Eq("deviceToken", keys.DeviceToken))
	}
	return s.storage.Find(ctx, ClassInstallation, object.AnyOf(branches...), masterRead())
}

// destroyStaleInstallations removes obsolete records sharing the device
// token. "Nothing to delete" is swallowed; any other failure aborts the
// write.
func (s *WriteService) destroyStaleInstallations(ctx context.Context, keys installation.Keys, preserveID string) error {
	filter := installation.StaleFilter(keys, preserveID)
	err := s.storage.Destroy(ctx, ClassInstallation, filter, ports.WriteOptions{Many: true})
	if err != nil && !apierr.Is(err, apierr.CodeObjectNotFound) {
		return err
	}
	return nil
}

// mirrorProductDownload copies the download file name into downloadName
// for _Product writes.
func (s *WriteService) mirrorProductDownload(c *writeContext) {
	if c.className != ClassProduct {
		return
	}
	if download, ok := c.data["download"].(map[string]any); ok {
		if name := object.String(download, "name"); name != "" {
			c.data["downloadName"] = name
		}
	}
}
