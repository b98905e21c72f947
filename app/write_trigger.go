package app

import (
	"context"

	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// runBeforeSave invokes the beforeSave hook. The storage write is first
// performed in validate-only mode so the hook never fires for a write the
// caller could not otherwise perform.
func (s *WriteService) runBeforeSave(ctx context.Context, c *writeContext) error {
	if !s.triggers.Has(c.className, ports.TriggerBeforeSave) {
		return nil
	}

	opts := ports.WriteOptions{ACL: c.runACL, ValidateOnly: true}
	if c.isUpdate() {
		if _, err := s.storage.Update(ctx, c.className, *c.query, c.data, opts); err != nil {
			return err
		}
	} else {
		if _, err := s.storage.Create(ctx, c.className, c.data, opts); err != nil {
			return err
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveTriggerRun(c.className, string(ports.TriggerBeforeSave))
	}
	replacement, err := s.triggers.Run(ctx, ports.TriggerBeforeSave, ports.TriggerInput{
		ClassName: c.className,
		Master:    c.auth.Master,
		UserID:    c.auth.UserID(),
		Object:    inflate(c.originalData, c.data),
		Original:  c.originalData,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveTriggerFailure(c.className, string(ports.TriggerBeforeSave))
		}
		return err
	}
	if replacement == nil {
		return nil
	}

	// Record every field the hook changed so the response echoes it.
	for field, value := range replacement {
		if !object.Equal(c.data[field], value) {
			c.markChanged(field)
		}
	}
	delete(replacement, "objectId")
	delete(replacement, "createdAt")
	for field, value := range replacement {
		c.data[field] = value
	}
	return nil
}

// runAfterSave fires the afterSave hook and live-query notification. Both
// run only when someone listens, after the response is final, and are not
// awaited; failures are logged, never surfaced.
func (s *WriteService) runAfterSave(ctx context.Context, c *writeContext) error {
	if c.response == nil {
		return nil
	}
	hasTrigger := s.triggers.Has(c.className, ports.TriggerAfterSave)
	hasLive := s.live.HasSubscribers(c.className)
	if !hasTrigger && !hasLive {
		return nil
	}

	in := ports.TriggerInput{
		ClassName: c.className,
		Master:    c.auth.Master,
		UserID:    c.auth.UserID(),
		Object:    inflate(c.originalData, c.data),
		Original:  c.originalData,
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		if hasTrigger {
			if s.metrics != nil {
				s.metrics.ObserveTriggerRun(in.ClassName, string(ports.TriggerAfterSave))
			}
			if _, err := s.triggers.Run(detached, ports.TriggerAfterSave, in); err != nil {
				if s.metrics != nil {
					s.metrics.ObserveTriggerFailure(in.ClassName, string(ports.TriggerAfterSave))
				}
				s.logger.Error().Err(err).
					Str("class", in.ClassName).
					Msg("afterSave trigger failed")
			}
		}
		if hasLive {
			s.live.OnAfterSave(in.ClassName, in.Object, in.Original)
		}
	}()
	return nil
}

// inflate overlays the pending write onto the pre-write object, dropping
// deleted fields, to produce the view a hook receives.
func inflate(original, data object.Map) object.Map {
	out := object.Clone(original)
	if out == nil {
		out = make(object.Map, len(data))
	}
	for k, v := range data {
		if object.IsDelete(v) {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
