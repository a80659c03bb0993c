package expr

import (
	"fmt"
	"strings"
)

// BuildOutputNames synthesizes the program that lists the top-level
// output attribute names without forcing any of their values.
func BuildOutputNames(req Request) (string, error) {
	prelude, err := synth(req)
	if err != nil {
		return "", err
	}
	return prelude + "in builtins.attrNames outputs\n", nil
}

// CategoryOptions control how much of a category BuildCategory forces.
type CategoryOptions struct {
	// System is the platform whose entries are enumerated in full.
	System string

	// AllSystems enumerates every platform, not just System.
	AllSystems bool

	// ShowLegacy enumerates legacyPackages instead of omitting it.
	ShowLegacy bool
}

// BuildCategory synthesizes the program that maps one top-level output
// category to its display structure. Values are never forced, only
// attribute names are collected; entries outside the requested system
// come back as omission markers the renderer understands:
//
//	{ "_omitted": true }        entry for another system
//	{ "_legacyOmitted": true }  legacyPackages without ShowLegacy
//	{ "_unknown": true }        category with no known structure
//	{ "_type": "<kind>" }       formatter, module, template, overlay,
//	                            configuration
func BuildCategory(req Request, category string, opts CategoryOptions) (string, error) {
	prelude, err := synth(req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(prelude)
	fmt.Fprintf(&b, "  system = %s;\n", nixString(opts.System))
	fmt.Fprintf(&b, "  allSystemsFlag = %s;\n", nixBool(opts.AllSystems))
	fmt.Fprintf(&b, "  showLegacyFlag = %s;\n", nixBool(opts.ShowLegacy))
	fmt.Fprintf(&b, "  categoryName = %s;\n", nixString(category))
	b.WriteString(`
  perSystemAttrs = [ "packages" "devShells" "checks" "apps" "legacyPackages" ];
  moduleAttrs = [ "nixosModules" "darwinModules" "homeManagerModules" "flakeModules" ];

  # Collect attr names without evaluating values; forcing thunks to see
  # whether they are derivations is far too slow for large flakes.
  getNames = attrs:
    builtins.listToAttrs (map (name: {
      inherit name;
      value = null;
    }) (builtins.attrNames attrs));

  processCategory = name: val:
    if builtins.elem name perSystemAttrs && builtins.isAttrs val
    then
      if name == "legacyPackages" && !showLegacyFlag
      then
        builtins.listToAttrs (map (sys: {
          name = sys;
          value = { _legacyOmitted = true; };
        }) (builtins.attrNames val))
      else
        builtins.listToAttrs (map (sys: {
          name = sys;
          value =
            if sys == system || allSystemsFlag
            then getNames val.${sys}
            else
              let sysVal = val.${sys}; in
              if builtins.isAttrs sysVal
              then builtins.listToAttrs (map (n: {
                name = n;
                value = { _omitted = true; };
              }) (builtins.attrNames sysVal))
              else { _omitted = true; };
        }) (builtins.attrNames val))

    # formatter maps system directly to a derivation
    else if name == "formatter" && builtins.isAttrs val
    then
      builtins.listToAttrs (map (sys: {
        name = sys;
        value =
          if sys == system || allSystemsFlag
          then { _type = "formatter"; }
          else { _omitted = true; };
      }) (builtins.attrNames val))

    else if builtins.elem name moduleAttrs && builtins.isAttrs val
    then builtins.listToAttrs (map (n: {
      name = n;
      value = { _type = "module"; };
    }) (builtins.attrNames val))

    else if name == "templates" && builtins.isAttrs val
    then builtins.listToAttrs (map (n: {
      name = n;
      value = { _type = "template"; };
    }) (builtins.attrNames val))

    else if name == "overlays" && builtins.isAttrs val
    then builtins.listToAttrs (map (n: {
      name = n;
      value = { _type = "overlay"; };
    }) (builtins.attrNames val))

    else if (name == "nixosConfigurations" || name == "darwinConfigurations" || name == "homeConfigurations") && builtins.isAttrs val
    then builtins.listToAttrs (map (n: {
      name = n;
      value = { _type = "configuration"; };
    }) (builtins.attrNames val))

    # lib, htmlDocs and the like: no known structure, do not enumerate
    else { _unknown = true; };

in processCategory categoryName outputs.${categoryName}
`)
	return b.String(), nil
}

// BuildProgramMeta synthesizes the program that reports the naming
// attributes of a derivation as a JSON object. Each of mainProgram,
// pname, and name is null when the derivation does not carry it.
func BuildProgramMeta(req Request, attr []string) (string, error) {
	prelude, err := synth(req)
	if err != nil {
		return "", err
	}
	return prelude +
		"  drv = outputs" + attrSuffix(attr) + ";\n\n" +
		"in {\n" +
		"  mainProgram = drv.meta.mainProgram or null;\n" +
		"  pname = drv.pname or null;\n" +
		"  name = drv.name or null;\n" +
		"}\n", nil
}

func nixBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
