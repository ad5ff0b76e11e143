package domain

import (
	"fmt"
	"sort"

	"github.com/totegamma/appforge"
)

const (
	queriesField       = "queries"
	moduleCompType     = "module"
	containerSizePath  = "ui.comp.container.containerSize"
	containerSizeField = "containerSize"
)

// Derivations are the extraction functions an Application memoizes.
type Derivations struct {
	Queries       func(appforge.DSL) ([]appforge.Query, error)
	Modules       func(appforge.DSL) ([]string, error)
	ContainerSize func(appforge.DSL) (*appforge.ContainerSize, error)
}

func DefaultDerivations() Derivations {
	return Derivations{
		Queries:       DeriveQueries,
		Modules:       DeriveDependentModules,
		ContainerSize: DeriveContainerSize,
	}
}

// SelectLive returns the published document unless it is empty.
func SelectLive(editing, published appforge.DSL) appforge.DSL {
	if published.IsEmpty() {
		return editing
	}
	return published
}

// DeriveQueries converts the "queries" array into typed queries.
// A missing field yields an empty result; any malformed element fails the whole call.
func DeriveQueries(dsl appforge.DSL) ([]appforge.Query, error) {
	raw, ok := dsl[queriesField]
	if !ok || raw == nil {
		return []appforge.Query{}, nil
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, DataFormatError{Field: queriesField, Index: -1, Reason: fmt.Sprintf("expected array, got %T", raw)}
	}

	queries := make([]appforge.Query, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		obj, ok := appforge.AsObject(item)
		if !ok {
			return nil, DataFormatError{Field: queriesField, Index: i, Reason: fmt.Sprintf("expected object, got %T", item)}
		}
		q, err := appforge.QueryFromMap(obj)
		if err != nil {
			return nil, DataFormatError{Field: queriesField, Index: i, Reason: err.Error()}
		}
		if _, dup := seen[q.ID]; dup {
			continue
		}
		seen[q.ID] = struct{}{}
		queries = append(queries, q)
	}
	return queries, nil
}

// DeriveDependentModules collects the ids of every module component embedded
// anywhere in the document. The result is sorted and distinct.
func DeriveDependentModules(dsl appforge.DSL) ([]string, error) {
	found := make(map[string]struct{})
	if err := collectModules(map[string]any(dsl), found); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func collectModules(node any, found map[string]struct{}) error {
	switch t := node.(type) {
	case map[string]any:
		if compType, _ := t["compType"].(string); compType == moduleCompType {
			if err := moduleRef(t, found); err != nil {
				return err
			}
		}
		for _, v := range t {
			if err := collectModules(v, found); err != nil {
				return err
			}
		}
	case appforge.DSL:
		return collectModules(map[string]any(t), found)
	case []any:
		for _, v := range t {
			if err := collectModules(v, found); err != nil {
				return err
			}
		}
	}
	return nil
}

func moduleRef(node map[string]any, found map[string]struct{}) error {
	comp, ok := appforge.AsObject(node["comp"])
	if !ok {
		return nil
	}
	raw, ok := comp["appId"]
	if !ok || raw == nil {
		return nil
	}
	id, ok := raw.(string)
	if !ok {
		return DataFormatError{Field: "comp.appId", Index: -1, Reason: fmt.Sprintf("expected string, got %T", raw)}
	}
	if id != "" {
		found[id] = struct{}{}
	}
	return nil
}

// DeriveContainerSize reads the size a module declares for its container.
func DeriveContainerSize(dsl appforge.DSL) (*appforge.ContainerSize, error) {
	raw, ok := dsl.Lookup(containerSizePath)
	if !ok || raw == nil {
		return nil, nil
	}

	obj, ok := appforge.AsObject(raw)
	if !ok {
		return nil, DataFormatError{Field: containerSizeField, Index: -1, Reason: fmt.Sprintf("expected object, got %T", raw)}
	}

	width, err := dimension(obj, "width")
	if err != nil {
		return nil, err
	}
	height, err := dimension(obj, "height")
	if err != nil {
		return nil, err
	}
	return &appforge.ContainerSize{Width: width, Height: height}, nil
}

func dimension(obj map[string]any, key string) (float64, error) {
	switch v := obj[key].(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, DataFormatError{Field: containerSizeField + "." + key, Index: -1, Reason: fmt.Sprintf("expected number, got %T", v)}
	}
}
