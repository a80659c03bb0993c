package config

import "fmt"

// Merge combines two settings layers where overlay takes precedence
// over base. This implements the hierarchical merge semantics:
//   - version: must agree if both declare it (non-zero); fatal error on mismatch
//   - scalar fields: overlay wins when it sets a value, base otherwise
//   - nix.experimental-features: overlay replaces the whole list when non-empty
func Merge(base, overlay *Settings) (*Settings, error) {
	if base == nil {
		return overlay, nil
	}
	if overlay == nil {
		return base, nil
	}

	result := &Settings{}

	// Version: must agree if both are non-zero.
	if err := mergeVersion(base.Version, overlay.Version, &result.Version); err != nil {
		return nil, err
	}

	result.Nix = mergeNix(base.Nix, overlay.Nix)
	result.Build = BuildSettings{
		OutLink: overlayString(base.Build.OutLink, overlay.Build.OutLink),
	}
	result.Templates = TemplateSettings{
		DefaultRef: overlayString(base.Templates.DefaultRef, overlay.Templates.DefaultRef),
	}
	result.Registry = RegistrySettings{
		GlobalURL: overlayString(base.Registry.GlobalURL, overlay.Registry.GlobalURL),
		CacheTTL:  overlayString(base.Registry.CacheTTL, overlay.Registry.CacheTTL),
	}

	return result, nil
}

// MergeAll merges multiple settings layers in order (lowest precedence first).
// Returns an error if any version mismatch is found.
func MergeAll(layers []*Settings) (*Settings, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("no configs to merge")
	}

	result := layers[0]
	for i := 1; i < len(layers); i++ {
		var err error
		result, err = Merge(result, layers[i])
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func mergeVersion(base, overlay int, out *int) error {
	switch {
	case base == 0 && overlay == 0:
		*out = 0 // neither declares; validation will catch this
	case base == 0:
		*out = overlay
	case overlay == 0:
		*out = base
	case base == overlay:
		*out = base
	default:
		return fmt.Errorf("config version mismatch: one layer declares version %d, another declares version %d — all config layers must agree on version", base, overlay)
	}
	return nil
}

func mergeNix(base, overlay NixSettings) NixSettings {
	out := NixSettings{
		Program: overlayString(base.Program, overlay.Program),
		Timeout: overlayString(base.Timeout, overlay.Timeout),
	}

	// The feature set is replaced wholesale, not unioned: a layer that
	// sets it is describing the complete set it wants.
	out.ExperimentalFeatures = base.ExperimentalFeatures
	if len(overlay.ExperimentalFeatures) > 0 {
		out.ExperimentalFeatures = overlay.ExperimentalFeatures
	}

	out.WorkerPool = base.WorkerPool
	if overlay.WorkerPool != 0 {
		out.WorkerPool = overlay.WorkerPool
	}

	return out
}

func overlayString(base, overlay string) string {
	if overlay != "" {
		return overlay
	}
	return base
}
