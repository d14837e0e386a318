package steps

import (
	"context"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/resolve"
)

// RuntimeTemplateKey is the manual-override key that selects a runtime
// template for one execution. It is a resolver hint, not config, and is
// stripped before the override layer merges.
const RuntimeTemplateKey = "runtime_template_id"

// Resolved carries the effective configs of one execution.
type Resolved struct {
	Processing *resolve.ProcessingConfig
	Output     *resolve.OutputConfig

	// MetadataLayers has the user and template layers filled; the upload
	// step folds the preset and caller layers in before merging.
	MetadataLayers resolve.MetadataLayers
}

// SplitRuntimeHint extracts the runtime-template hint from a manual
// override and returns the override without it. The input is never
// mutated.
func SplitRuntimeHint(override *resolve.ProcessingConfig) (models.ULID, *resolve.ProcessingConfig, error) {
	if override == nil || override.Extra == nil {
		return models.ULID{}, override, nil
	}
	raw, ok := override.Extra[RuntimeTemplateKey]
	if !ok {
		return models.ULID{}, override, nil
	}
	stripped := override.Clone()
	delete(stripped.Extra, RuntimeTemplateKey)
	if len(stripped.Extra) == 0 {
		stripped.Extra = nil
	}

	s, ok := raw.(string)
	if !ok || s == "" {
		return models.ULID{}, stripped, nil
	}
	id, err := models.ParseULID(s)
	if err != nil {
		return models.ULID{}, stripped, recerr.Wrap(recerr.KindTerminal, err, "invalid runtime template id %q", s)
	}
	return id, stripped, nil
}

// ResolveConfigs merges the layer chain for one recording: user config,
// bound template, optional runtime template, per-recording preferences,
// and the manual override of this execution.
func (e *Env) ResolveConfigs(ctx context.Context, rec *models.Recording, override *resolve.ProcessingConfig) (*Resolved, error) {
	userCfg, err := e.Users.GetConfig(ctx, rec.UserID)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "loading user config")
	}

	tmpl := rec.Template
	if tmpl == nil && rec.TemplateID != nil {
		tmpl, err = e.Templates.GetByID(ctx, *rec.TemplateID, rec.UserID)
		if err != nil {
			return nil, recerr.Wrap(recerr.KindTransient, err, "loading template")
		}
	}

	runtimeID, override, err := SplitRuntimeHint(override)
	if err != nil {
		return nil, err
	}
	var runtime *models.RecordingTemplate
	if !runtimeID.IsZero() {
		runtime, err = e.Templates.GetByID(ctx, runtimeID, rec.UserID)
		if err != nil {
			return nil, recerr.Wrap(recerr.KindTransient, err, "loading runtime template")
		}
		if runtime == nil {
			return nil, recerr.NotFound("runtime template")
		}
	}

	layers := resolve.ProcessingLayers{
		Preferences: rec.ProcessingPreferences,
		Override:    override,
	}
	out := resolve.OutputLayers{}
	meta := resolve.MetadataLayers{}
	if userCfg != nil {
		layers.User = userCfg.Processing
		out.User = userCfg.Output
		meta.User = userCfg.Metadata
	}
	if tmpl != nil {
		layers.Template = tmpl.ProcessingConfig
		layers.TemplateVocabulary = tmpl.TranscriptionVocabulary
		out.Template = tmpl.OutputConfig
		meta.Template = tmpl.MetadataConfig
	}
	if runtime != nil {
		layers.Runtime = runtime.ProcessingConfig
		layers.RuntimeVocabulary = runtime.TranscriptionVocabulary
		out.Runtime = runtime.OutputConfig
	}

	return &Resolved{
		Processing:     resolve.Processing(layers),
		Output:         resolve.Output(out),
		MetadataLayers: meta,
	}, nil
}
