package catalog

import (
	"encoding/json"
	"reflect"

	"github.com/infraweave-io/infraweave/internal/models"
)

// ComputeDiff walks the previous and newly published manifest as generic
// JSON trees and reports the field-level additions, changes, and
// removals between them, recorded on the new CatalogEntry so a consumer
// can see what moved without diffing raw manifests themselves. Directly
// adapted from utils/module_diff.rs's diff_values, generalized from an
// HCL-parsed resource tree to the manifest JSON tree this catalog
// actually stores.
func ComputeDiff(previous, next models.ModuleManifest) (models.ModuleVersionDiff, error) {
	prevTree, err := toTree(previous)
	if err != nil {
		return models.ModuleVersionDiff{}, err
	}
	nextTree, err := toTree(next)
	if err != nil {
		return models.ModuleVersionDiff{}, err
	}

	added, changed, removed := diffValues(prevTree, nextTree, "")
	return models.ModuleVersionDiff{
		Added:           added,
		Changed:         changed,
		Removed:         removed,
		PreviousVersion: previous.Spec.Version,
	}, nil
}

func toTree(m models.ModuleManifest) (any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func diffValues(v1, v2 any, path string) ([]models.ModuleDiffAddition, []models.ModuleDiffChange, []models.ModuleDiffRemoval) {
	var additions []models.ModuleDiffAddition
	var changes []models.ModuleDiffChange
	var removals []models.ModuleDiffRemoval

	map1, ok1 := v1.(map[string]any)
	map2, ok2 := v2.(map[string]any)

	switch {
	case ok1 && ok2:
		for key, val1 := range map1 {
			newPath := joinPath(path, key)
			if val2, present := map2[key]; present {
				a, c, r := diffValues(val1, val2, newPath)
				additions = append(additions, a...)
				changes = append(changes, c...)
				removals = append(removals, r...)
				continue
			}
			removals = append(removals, flattenRemovals(newPath, val1)...)
		}
		for key, val2 := range map2 {
			if _, present := map1[key]; present {
				continue
			}
			newPath := joinPath(path, key)
			additions = append(additions, flattenAdditions(newPath, val2)...)
		}

	case isArray(v1) && isArray(v2):
		if !reflect.DeepEqual(v1, v2) {
			changes = append(changes, models.ModuleDiffChange{Path: path, OldValue: v1, NewValue: v2})
		}

	default:
		if !reflect.DeepEqual(v1, v2) {
			changes = append(changes, models.ModuleDiffChange{Path: path, OldValue: v1, NewValue: v2})
		}
	}

	return additions, changes, removals
}

func isArray(v any) bool {
	_, ok := v.([]any)
	return ok
}

func joinPath(path, key string) string {
	if path == "" {
		return "/" + key
	}
	return path + "/" + key
}

// flattenAdditions mirrors diff_values' behavior of exploding a newly
// introduced object into one addition per leaf key rather than one
// addition for the whole subtree.
func flattenAdditions(path string, v any) []models.ModuleDiffAddition {
	if m, ok := v.(map[string]any); ok {
		out := make([]models.ModuleDiffAddition, 0, len(m))
		for k, sub := range m {
			out = append(out, models.ModuleDiffAddition{Path: joinPath(path, k), Value: sub})
		}
		return out
	}
	return []models.ModuleDiffAddition{{Path: path, Value: v}}
}

func flattenRemovals(path string, v any) []models.ModuleDiffRemoval {
	if m, ok := v.(map[string]any); ok {
		out := make([]models.ModuleDiffRemoval, 0, len(m))
		for k, sub := range m {
			out = append(out, models.ModuleDiffRemoval{Path: joinPath(path, k), Value: sub})
		}
		return out
	}
	return []models.ModuleDiffRemoval{{Path: path, Value: v}}
}
