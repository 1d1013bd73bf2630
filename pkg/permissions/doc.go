// Package permissions holds the Crewform permission catalog and the implication graph
// built from it.
//
// # Catalog
//
// The catalog is embedded in the binary (catalog.yaml) and parsed once on first use.
// It is immutable: there is no API to add, remove or edit permissions at runtime.
// Keys are stable identifiers such as "manage_forms" or "view_applications"; new keys
// may be added in later releases but existing keys are never repurposed.
//
//	for _, group := range permissions.Default().Groups() {
//		fmt.Println(group.Label)
//		for _, perm := range group.Permissions {
//			fmt.Printf("  %s - %s\n", perm.Key, perm.Description)
//		}
//	}
//
// Presets are curated bundles used to pre-fill the role editor:
//
//	for _, preset := range permissions.Default().Presets() {
//		fmt.Println(preset.Name, preset.Permissions)
//	}
//
// # Implications
//
// Holding one permission can automatically grant others ("manage_forms" implies
// "view_forms"). Implications chain, so expansion is computed to a fixed point:
//
//	expanded := permissions.Expand(permissions.NewSet("manage_applications"))
//	// manage_applications, review_applications, view_applications, view_positions
//
// DependencyWarnings reports what a selection will auto-grant. It is advisory, used by
// the role editor to preview the effect of a save; implications never block a save.
//
// Keys that are not in the catalog are tolerated everywhere and imply nothing.
package permissions
