package expr

import (
	"fmt"
	"path/filepath"
)

// Programs in this file interrogate flake.nix itself, before any lock
// graph exists, so they carry no input prelude.

// BuildInputSpecs synthesizes the program that lists the authored
// inputs of a flake as JSON: name, url (string shorthand normalized),
// follows, the flake flag, and any nested follows declarations.
func BuildInputSpecs(dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("flake directory must be absolute, got %q", dir)
	}
	return fmt.Sprintf(`let
  flake = import %s/flake.nix;
  inputs = flake.inputs or { };

  getInputInfo = name:
    let
      input = inputs.${name};
      # string shorthand carries only a url
      inputAttrs = if builtins.isAttrs input then input else { url = input; };
    in {
      inherit name;
      url = inputAttrs.url or null;
      follows = inputAttrs.follows or null;
      flake = inputAttrs.flake or true;
      nestedFollows =
        if inputAttrs ? inputs then
          builtins.listToAttrs (
            builtins.filter (x: x.value != null) (
              map (nestedName: {
                name = nestedName;
                value = inputAttrs.inputs.${nestedName}.follows or null;
              }) (builtins.attrNames inputAttrs.inputs)
            )
          )
        else { };
    };

in map getInputInfo (builtins.attrNames inputs)
`, dir), nil
}

// BuildDescription synthesizes the program that reads the flake's
// description, or null when it has none.
func BuildDescription(dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("flake directory must be absolute, got %q", dir)
	}
	return fmt.Sprintf("(import %s/flake.nix).description or null\n", dir), nil
}

// BuildNixConfig synthesizes the program that reads the nixConfig
// block: every declared option name plus the shell prompt settings.
func BuildNixConfig(dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("flake directory must be absolute, got %q", dir)
	}
	return fmt.Sprintf(`let
  cfg = (import %s/flake.nix).nixConfig or { };
in {
  names = builtins.attrNames cfg;
  bash-prompt = cfg.bash-prompt or null;
  bash-prompt-prefix = cfg.bash-prompt-prefix or null;
  bash-prompt-suffix = cfg.bash-prompt-suffix or null;
}
`, dir), nil
}
